package httpman

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultExpiryWarnWindow is how long before expiry a certificate is
// reported as expiring.
const DefaultExpiryWarnWindow = 30 * 24 * time.Hour

// ExpiryMonitor periodically sweeps the certificates attached to every
// registered HTTPS server and reports the ones expiring within the warn
// window, both as a warning log and as a certificate.expiring event.
// Renewal itself is out of scope; operators or an external issuer act on
// the events.
type ExpiryMonitor struct {
	manager    *ServerManager
	logger     Logger
	warnWindow time.Duration
	scheduler  *cron.Cron
}

// NewExpiryMonitor creates a monitor. A non-positive warn window gets the
// default of 30 days.
func NewExpiryMonitor(manager *ServerManager, logger Logger, warnWindow time.Duration) *ExpiryMonitor {
	if warnWindow <= 0 {
		warnWindow = DefaultExpiryWarnWindow
	}
	return &ExpiryMonitor{
		manager:    manager,
		logger:     logger,
		warnWindow: warnWindow,
	}
}

// Start schedules the sweep with a cron expression ("@daily" when empty)
// and runs one sweep immediately so a fresh process reports problems
// without waiting for the first tick.
func (e *ExpiryMonitor) Start(schedule string) error {
	if schedule == "" {
		schedule = "@daily"
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, e.Sweep); err != nil {
		return fmt.Errorf("scheduling certificate expiry sweep: %w", err)
	}

	e.scheduler = scheduler
	scheduler.Start()
	e.Sweep()

	e.logger.Info("Certificate expiry monitor started", "schedule", schedule, "warnWindow", e.warnWindow)
	return nil
}

// Stop cancels the scheduled sweeps. A sweep already in flight finishes.
func (e *ExpiryMonitor) Stop() {
	if e.scheduler != nil {
		<-e.scheduler.Stop().Done()
		e.scheduler = nil
	}
}

// Sweep checks every attached certificate once. Exposed so callers can
// force a check outside the schedule.
func (e *ExpiryMonitor) Sweep() {
	deadline := time.Now().Add(e.warnWindow)

	for addr, server := range e.manager.secureServers() {
		for _, cert := range server.Certificates() {
			notAfter := cert.NotAfter()
			if notAfter.IsZero() || notAfter.After(deadline) {
				continue
			}

			e.logger.Warn("Certificate expires soon",
				"certificate", cert.Name(), "address", addr.String(), "notAfter", notAfter)

			e.manager.emitEvent(context.Background(), EventTypeCertificateExpiring, map[string]interface{}{
				"certificate": cert.Name(),
				"address":     addr.String(),
				"notAfter":    notAfter,
			}, nil)
		}
	}
}
