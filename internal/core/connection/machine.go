// Package connection encodes the relationship phases between two users and
// the transitions a viewer may trigger on a subject.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/lorrc/carenet-sync/internal/core/domain"
	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
)

const week = 7 * 24 * time.Hour

// Cooldowns are the minimum waits before a connect may follow each terminal phase.
type Cooldowns struct {
	Rejected  time.Duration
	Withdraw  time.Duration
	Unconnect time.Duration
}

// DefaultCooldowns returns the production cool-down windows.
func DefaultCooldowns() Cooldowns {
	return Cooldowns{
		Rejected:  5 * week,
		Withdraw:  3 * week,
		Unconnect: 5 * week,
	}
}

func (c Cooldowns) window(phase domain.ConnectionPhase) time.Duration {
	switch phase {
	case domain.PhaseRejected:
		return c.Rejected
	case domain.PhaseWithdraw:
		return c.Withdraw
	case domain.PhaseUnconnect:
		return c.Unconnect
	default:
		return 0
	}
}

// transitions lists every legal (action, source) -> destination.
var transitions = fsm.Events{
	{
		Name: string(domain.ActionConnect),
		Src: []string{
			string(domain.PhaseNone),
			string(domain.PhaseRejected),
			string(domain.PhaseWithdraw),
			string(domain.PhaseUnconnect),
		},
		Dst: string(domain.PhasePending),
	},
	{Name: string(domain.ActionWithdraw), Src: []string{string(domain.PhasePending)}, Dst: string(domain.PhaseWithdraw)},
	{Name: string(domain.ActionAccept), Src: []string{string(domain.PhaseReceived)}, Dst: string(domain.PhaseConnected)},
	{Name: string(domain.ActionRemove), Src: []string{string(domain.PhaseConnected)}, Dst: string(domain.PhaseUnconnect)},
}

// Machine computes connection transitions. It holds no per-pair state; the
// current relationship is passed in and the next one returned.
type Machine struct {
	cooldowns Cooldowns
}

// NewMachine creates a machine enforcing the given cool-down windows.
func NewMachine(cooldowns Cooldowns) *Machine {
	return &Machine{cooldowns: cooldowns}
}

// Transition applies action to current at time now. On error the caller's
// relationship is unchanged: a CooldownError when a reconnect comes too soon,
// ErrInvalidTransition when the action is not legal from the current phase.
func (m *Machine) Transition(current domain.Relationship, action domain.Action, now time.Time) (domain.Relationship, error) {
	if !action.IsConnectionAction() {
		return current, fmt.Errorf("%w: %s", apperrors.ErrInvalidAction, action)
	}
	if current.Phase == "" {
		current.Phase = domain.PhaseNone
	}

	machine := fsm.NewFSM(
		string(current.Phase),
		transitions,
		fsm.Callbacks{
			"before_" + string(domain.ActionConnect): func(_ context.Context, e *fsm.Event) {
				if err := m.checkCooldown(current, now); err != nil {
					e.Cancel(err)
				}
			},
		},
	)

	if err := machine.Event(context.Background(), string(action)); err != nil {
		return current, translate(err, current.Phase, action)
	}

	return domain.Relationship{
		Phase:     domain.ConnectionPhase(machine.Current()),
		ChangedAt: now,
	}, nil
}

// Can reports whether action is structurally allowed from phase, ignoring cool-downs.
func (m *Machine) Can(phase domain.ConnectionPhase, action domain.Action) bool {
	if !action.IsConnectionAction() {
		return false
	}
	return fsm.NewFSM(string(phase), transitions, fsm.Callbacks{}).Can(string(action))
}

// RetryAt returns when a connect becomes possible again from current.
// The zero time means there is no cool-down.
func (m *Machine) RetryAt(current domain.Relationship) time.Time {
	window := m.cooldowns.window(current.Phase)
	if window == 0 || current.ChangedAt.IsZero() {
		return time.Time{}
	}
	return current.ChangedAt.Add(window)
}

func (m *Machine) checkCooldown(current domain.Relationship, now time.Time) error {
	retryAt := m.RetryAt(current)
	if retryAt.IsZero() || !now.Before(retryAt) {
		return nil
	}
	return &apperrors.CooldownError{Phase: string(current.Phase), RetryAt: retryAt}
}

func translate(err error, phase domain.ConnectionPhase, action domain.Action) error {
	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}
	return fmt.Errorf("%w: cannot %s from %s", apperrors.ErrInvalidTransition, action, phase)
}
