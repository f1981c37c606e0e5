package httpman

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event type constants emitted by the server manager and its helpers.
// Following CloudEvents specification reverse domain notation.
const (
	// Server lifecycle events
	EventTypeServerCreated  = "com.httpman.server.created"
	EventTypeServerReused   = "com.httpman.server.reused"
	EventTypeServerReleased = "com.httpman.server.released"
	EventTypeServerStopped  = "com.httpman.server.stopped"

	// Certificate events
	EventTypeCertificateAdded    = "com.httpman.certificate.added"
	EventTypeCertificateRemoved  = "com.httpman.certificate.removed"
	EventTypeCertificateReloaded = "com.httpman.certificate.reloaded"
	EventTypeCertificateExpiring = "com.httpman.certificate.expiring"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a properly formatted CloudEvent with a UUIDv7 ID.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID generates a time-ordered unique identifier using UUIDv7,
// falling back to v4 if v7 generation fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent validates that an event conforms to the CloudEvents
// specification before it is delivered to observers.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}
