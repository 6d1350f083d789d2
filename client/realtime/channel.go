// Package realtime subscribes to discussion rooms over a persistent connection.
package realtime

import (
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
)

type State int

const (
	Connected State = iota
	// Reconnected follows a drop; rooms were rejoined and events may have been missed.
	Reconnected
	Disconnected
	// Degraded means reconnect attempts are exhausted. REST refresh still works.
	Degraded
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnected:
		return "reconnected"
	case Disconnected:
		return "disconnected"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

type StateChange struct {
	State   State
	Attempt int
	Err     error
}

// Channel is the realtime capability handed to the reconcile engine.
// Join and Leave are idempotent. Delivery is at most once and unordered
// relative to REST responses.
type Channel interface {
	Join(id domain.DiscussionId) error
	Leave(id domain.DiscussionId) error
	Events() <-chan api.Event
	States() <-chan StateChange
	// Reconnect restarts attempts after the channel went Degraded.
	Reconnect()
	Close() error
}
