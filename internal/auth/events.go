// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Pharmadiet Contributors

package auth

import (
	"sync"
	"time"
)

// EventKind identifies what happened.
type EventKind string

// Event kinds published by Service.
const (
	EventLoginSucceeded      EventKind = "login_succeeded"
	EventLoginFailed         EventKind = "login_failed"
	EventAccountLocked       EventKind = "account_locked"
	EventLoggedOut           EventKind = "logged_out"
	EventSessionExpired      EventKind = "session_expired"
	EventSessionTerminated   EventKind = "session_terminated"
	EventUserCreated         EventKind = "user_created"
	EventUserUpdated         EventKind = "user_updated"
	EventUserDeleted         EventKind = "user_deleted"
	EventPasswordChanged     EventKind = "password_changed"
	EventFailedAttemptsReset EventKind = "failed_attempts_reset"
	EventPasswordResetIssued EventKind = "password_reset_issued"
	EventPasswordReset       EventKind = "password_reset"
)

// Reasons attached to EventLoginFailed.
const (
	ReasonUserNotFound    = "user_not_found"
	ReasonAccountInactive = "account_inactive"
	ReasonAccountLocked   = "account_locked"
	ReasonInvalidPassword = "invalid_password"
)

// Event describes an authentication or user-management occurrence.
// Subject is the username (or login identifier) the event concerns;
// ActorID is the user whose session performed the action, if any.
type Event struct {
	Kind      EventKind
	SubjectID string
	Subject   string
	ActorID   string
	SessionID string
	Reason    string
	Timestamp time.Time
}

// Observer receives events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// EventBus fans events out to subscribed observers.
// Delivery is synchronous, in subscription order, on the publishing goroutine.
type EventBus struct {
	mu        sync.RWMutex
	observers []subscription
	nextID    int
}

type subscription struct {
	id int
	o  Observer
}

// NewEventBus creates an EventBus with no observers.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds o and returns a function that removes it.
func (b *EventBus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, o: o})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.observers {
			if s.id == id {
				b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every observer.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	subs := b.observers
	b.mu.RUnlock()

	for _, s := range subs {
		s.o.Observe(e)
	}
}
