// Package settings holds the capture schedule pushed to the camera and the
// single-slot queue that carries a change until the session can write it.
package settings

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadyPending is returned by Enqueue while an earlier command is still
// waiting to be written to the device.
var ErrAlreadyPending = errors.New("settings: a previous settings change is still pending")

// Command is a capture schedule: how often the camera shoots and the memory
// usage threshold at which it starts a batch transfer.
type Command struct {
	FrequencySeconds int `json:"frequency"`
	ThresholdPercent int `json:"threshold"`
}

// Policy bounds the values accepted by Enqueue.
type Policy struct {
	MinFrequencySeconds int
	MinThresholdPercent int
	MaxThresholdPercent int
}

// DefaultPolicy returns the bounds supported by the camera firmware.
func DefaultPolicy() Policy {
	return Policy{
		MinFrequencySeconds: 3,
		MinThresholdPercent: 2,
		MaxThresholdPercent: 95,
	}
}

// ValidationError describes a command rejected by the Policy.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("settings: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks cmd against the policy.
func (p Policy) Validate(cmd Command) error {
	if cmd.FrequencySeconds < p.MinFrequencySeconds {
		return &ValidationError{
			Field:  "frequency",
			Reason: fmt.Sprintf("must be %d seconds or greater", p.MinFrequencySeconds),
		}
	}
	if cmd.ThresholdPercent < p.MinThresholdPercent || cmd.ThresholdPercent > p.MaxThresholdPercent {
		return &ValidationError{
			Field:  "threshold",
			Reason: fmt.Sprintf("must be between %d%% and %d%%", p.MinThresholdPercent, p.MaxThresholdPercent),
		}
	}
	return nil
}

// Queue holds at most one command waiting to be pushed to the device.
// Safe for concurrent use.
type Queue struct {
	policy Policy

	mu      sync.Mutex
	pending *Command
	current Command
}

// NewQueue creates an empty queue. initial is reported by Current until a
// command is accepted.
func NewQueue(policy Policy, initial Command) *Queue {
	return &Queue{policy: policy, current: initial}
}

// Enqueue validates cmd and places it in the slot. It returns a
// *ValidationError for out-of-range values and ErrAlreadyPending while the
// slot is occupied.
func (q *Queue) Enqueue(cmd Command) error {
	if err := q.policy.Validate(cmd); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending != nil {
		return ErrAlreadyPending
	}
	c := cmd
	q.pending = &c
	q.current = cmd
	return nil
}

// Drain removes and returns the pending command, if any.
func (q *Queue) Drain() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return Command{}, false
	}
	cmd := *q.pending
	q.pending = nil
	return cmd, true
}

// Pending reports whether a command is waiting to be written.
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending != nil
}

// Current returns the most recently accepted settings.
func (q *Queue) Current() Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}
