package httpman

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

// managerBDDContext carries state between scenario steps. Every server
// the manager asks for is a stub, so scenarios run without binding
// real sockets.
type managerBDDContext struct {
	manager       *ServerManager
	logger        *testLogger
	plainStubs    []*stubServer
	secureStubs   []*stubSecureServer
	failBindAfter int

	firstServer Server
	lastServer  Server
	lastError   error
	group       []Server
	attached    bool
}

func (ctx *managerBDDContext) reset() error {
	ctx.logger = &testLogger{}
	ctx.plainStubs = nil
	ctx.secureStubs = nil
	ctx.failBindAfter = -1
	ctx.firstServer = nil
	ctx.lastServer = nil
	ctx.lastError = nil
	ctx.group = nil
	ctx.attached = false

	manager, err := NewServerManager(nil, ctx.logger,
		WithHTTPServerFactory(func(name string, config *Config, logger Logger) Server {
			stub := newStubServer(name)
			if ctx.failBindAfter >= 0 && len(ctx.plainStubs) >= ctx.failBindAfter {
				stub.failStart = true
			}
			ctx.plainStubs = append(ctx.plainStubs, stub)
			return stub
		}),
		WithHTTPSServerFactory(func(name string, config *Config, logger Logger) SecureServer {
			stub := newStubSecureServer(name)
			ctx.secureStubs = append(ctx.secureStubs, stub)
			return stub
		}),
	)
	if err != nil {
		return err
	}
	ctx.manager = manager
	return nil
}

func (ctx *managerBDDContext) aServerManager() error {
	return ctx.reset()
}

func (ctx *managerBDDContext) theNextBindAfterTheFirstWillFail() error {
	ctx.failBindAfter = 1
	return nil
}

func (ctx *managerBDDContext) iCreateAnHTTPServer(name, host string, port int) error {
	server, err := ctx.manager.CreateHTTPServer(name, NewSocketAddress(host, uint16(port)), 4)
	ctx.lastError = err
	if err != nil {
		return nil
	}
	if ctx.firstServer == nil {
		ctx.firstServer = server
	}
	ctx.lastServer = server
	return nil
}

func (ctx *managerBDDContext) iCreateAnHTTPSServer(name, host string, port int) error {
	server, err := ctx.manager.CreateHTTPSServer(name, NewSocketAddress(host, uint16(port)), false, 4)
	ctx.lastError = err
	if err != nil {
		return nil
	}
	ctx.lastServer = server
	return nil
}

func (ctx *managerBDDContext) iCreateHTTPServersOnHosts(name, hostList string, port int) error {
	hosts := strings.Split(hostList, ",")
	ctx.lastError = ctx.manager.CreateHTTPServers(&ctx.group, name, hosts, uint16(port), 4, nil)
	return nil
}

func (ctx *managerBDDContext) iAttachACertificate(host string, port int) error {
	cert := &Certificate{name: "bdd-cert"}
	ctx.attached = ctx.manager.AppendCertificate(NewSocketAddress(host, uint16(port)), cert)
	return nil
}

func (ctx *managerBDDContext) iReleaseTheServerOnce() error {
	if ctx.firstServer == nil {
		return fmt.Errorf("no server to release")
	}
	if !ctx.manager.ReleaseServer(ctx.firstServer) {
		return fmt.Errorf("release was refused")
	}
	return nil
}

func (ctx *managerBDDContext) bothRequestsShouldReturnTheSameServerInstance() error {
	if ctx.lastError != nil {
		return fmt.Errorf("unexpected error: %w", ctx.lastError)
	}
	if ctx.firstServer == nil || ctx.firstServer != ctx.lastServer {
		return fmt.Errorf("expected the same server instance on both requests")
	}
	return nil
}

func (ctx *managerBDDContext) exactlyNServersShouldHaveBeenStarted(n int) error {
	started := 0
	for _, stub := range ctx.plainStubs {
		started += stub.starts()
	}
	for _, stub := range ctx.secureStubs {
		started += stub.starts()
	}
	if started != n {
		return fmt.Errorf("expected %d started servers, got %d", n, started)
	}
	return nil
}

func (ctx *managerBDDContext) theRequestShouldFailWithAVariantConflict() error {
	if !errors.Is(ctx.lastError, ErrVariantConflict) {
		return fmt.Errorf("expected a variant conflict, got %v", ctx.lastError)
	}
	return nil
}

func (ctx *managerBDDContext) theGroupShouldContainNServers(n int) error {
	if len(ctx.group) != n {
		return fmt.Errorf("expected %d servers in the group, got %d", n, len(ctx.group))
	}
	return nil
}

func (ctx *managerBDDContext) theManagerShouldTrackNAddresses(n int) error {
	if count := ctx.manager.ServerCount(); count != n {
		return fmt.Errorf("expected %d tracked addresses, got %d", n, count)
	}
	return nil
}

func (ctx *managerBDDContext) theGroupProvisioningShouldFail() error {
	if ctx.lastError == nil {
		return fmt.Errorf("expected group provisioning to fail")
	}
	return nil
}

func (ctx *managerBDDContext) theCertificateAttachmentShouldBeRefused() error {
	if ctx.attached {
		return fmt.Errorf("expected the attachment to be refused")
	}
	return nil
}

func (ctx *managerBDDContext) theServerShouldStillBeRunning() error {
	if len(ctx.plainStubs) == 0 {
		return fmt.Errorf("no server was created")
	}
	if stops := ctx.plainStubs[0].stops(); stops != 0 {
		return fmt.Errorf("expected no stop calls, got %d", stops)
	}
	return nil
}

func (ctx *managerBDDContext) theServerShouldBeStopped() error {
	if len(ctx.plainStubs) == 0 {
		return fmt.Errorf("no server was created")
	}
	if stops := ctx.plainStubs[0].stops(); stops != 1 {
		return fmt.Errorf("expected one stop call, got %d", stops)
	}
	return nil
}

func TestServerManagerBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			testCtx := &managerBDDContext{}

			sc.Given(`^a server manager$`, testCtx.aServerManager)
			sc.Given(`^the next bind after the first will fail$`, testCtx.theNextBindAfterTheFirstWillFail)

			sc.When(`^I create an HTTP server "([^"]*)" on "([^"]*)" port (\d+)$`, testCtx.iCreateAnHTTPServer)
			sc.When(`^I create an HTTPS server "([^"]*)" on "([^"]*)" port (\d+)$`, testCtx.iCreateAnHTTPSServer)
			sc.When(`^I create HTTP servers "([^"]*)" on hosts "([^"]*)" port (\d+)$`, testCtx.iCreateHTTPServersOnHosts)
			sc.When(`^I attach a certificate to "([^"]*)" port (\d+)$`, testCtx.iAttachACertificate)
			sc.When(`^I release the server once$`, testCtx.iReleaseTheServerOnce)

			sc.Then(`^both requests should return the same server instance$`, testCtx.bothRequestsShouldReturnTheSameServerInstance)
			sc.Then(`^exactly (\d+) server(?:s)? should have been started$`, testCtx.exactlyNServersShouldHaveBeenStarted)
			sc.Then(`^the request should fail with a variant conflict$`, testCtx.theRequestShouldFailWithAVariantConflict)
			sc.Then(`^the group should contain (\d+) servers$`, testCtx.theGroupShouldContainNServers)
			sc.Then(`^the manager should track (\d+) addresses$`, testCtx.theManagerShouldTrackNAddresses)
			sc.Then(`^the group provisioning should fail$`, testCtx.theGroupProvisioningShouldFail)
			sc.Then(`^the certificate attachment should be refused$`, testCtx.theCertificateAttachmentShouldBeRefused)
			sc.Then(`^the server should still be running$`, testCtx.theServerShouldStillBeRunning)
			sc.Then(`^the server should be stopped$`, testCtx.theServerShouldBeStopped)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/server_manager.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
