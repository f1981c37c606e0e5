package httpman

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration holds information about a registered observer.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // set of event types this observer is interested in
	registeredAt time.Time
}

var _ Subject = (*ServerManager)(nil)

// RegisterObserver adds an observer to receive manager notifications.
// Observers can filter by event type; an empty list receives everything.
func (m *ServerManager) RegisterObserver(observer Observer, eventTypes ...string) error {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	m.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	m.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Idempotent.
func (m *ServerManager) UnregisterObserver(observer Observer) error {
	m.observerMu.Lock()
	defer m.observerMu.Unlock()

	if _, exists := m.observers[observer.ObserverID()]; exists {
		delete(m.observers, observer.ObserverID())
		m.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}

	return nil
}

// NotifyObservers delivers a CloudEvent to every interested observer. Each
// observer runs in its own goroutine so a slow or panicking observer cannot
// block the manager.
func (m *ServerManager) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()

	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}

	if err := ValidateCloudEvent(event); err != nil {
		m.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	for _, registration := range m.observers {
		registration := registration

		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Observer panicked", "observerID", registration.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil {
				m.logger.Error("Observer error", "observerID", registration.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}

	return nil
}

// GetObservers returns information about currently registered observers.
func (m *ServerManager) GetObservers() []ObserverInfo {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()

	info := make([]ObserverInfo, 0, len(m.observers))
	for _, registration := range m.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}

		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}

	return info
}

// emitEvent builds and delivers an event without blocking manager
// operations.
func (m *ServerManager) emitEvent(ctx context.Context, eventType string, data interface{}, metadata map[string]interface{}) {
	event := NewCloudEvent(eventType, "server-manager", data, metadata)

	go func() {
		if err := m.NotifyObservers(ctx, event); err != nil {
			m.logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}
