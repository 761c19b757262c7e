// Package reconcile runs customer synchronizations outside the request that
// asked for them.
package reconcile

import (
	"context"
	"errors"
	"strings"
)

// ErrQueueFull is returned when the in-process queue cannot take more work.
var ErrQueueFull = errors.New("reconcile queue full")

// ErrClosed is returned by dispatchers that are shutting down.
var ErrClosed = errors.New("reconcile dispatcher closed")

// Task asks for one customer to be re-synchronized. EventID and EventType
// are carried only for log correlation.
type Task struct {
	EventID           string `json:"event_id,omitempty"`
	EventType         string `json:"event_type,omitempty"`
	CustomerID        string `json:"customer_id"`
	ClientReferenceID string `json:"client_reference_id,omitempty"`
	Trigger           string `json:"trigger,omitempty"`
}

// Validate checks the fields every task must carry.
func (t Task) Validate() error {
	if strings.TrimSpace(t.CustomerID) == "" {
		return errors.New("task customer id is required")
	}
	return nil
}

// Dispatcher hands a task to whatever executes it. Dispatch must return
// quickly; the work happens later.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}
