package syncstate

import (
	"fmt"
	"sync"
)

// Machine is a concurrency-safe holder of the current State, driven by
// Fire. It is the thing a node's sync loop actually owns; Next itself
// stays a pure function so transition logic can be tested without a
// running node.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine returns a Machine starting in Starting.
func NewMachine() *Machine {
	return &Machine{state: Starting}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Fire applies ev to the current state via Next, storing and returning
// the result. A rejected transition (ErrNoTransition) leaves the state
// unchanged.
func (m *Machine) Fire(ev Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Next(m.state, ev)
	if err != nil {
		return m.state, err
	}
	m.state = next
	return m.state, nil
}

// AdvanceHorizonPhase moves directly between the three horizon
// sub-phases. Next alone cannot express this: it only distinguishes
// "still inside horizon sync" from "horizon sync finished", since every
// one of the three sub-states reacts identically to
// EventHorizonSyncSucceeded/Failed. The caller is responsible for
// calling this in the fixed order kernels -> outputs -> finalizing as
// each sub-phase completes, then firing EventHorizonSyncSucceeded once
// to leave horizon sync for BlockSync.
func (m *Machine) AdvanceHorizonPhase(phase State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case HorizonKernels, HorizonOutputs, HorizonFinalizing:
	default:
		return fmt.Errorf("syncstate: cannot advance horizon phase from %s", m.state)
	}
	switch phase {
	case HorizonKernels, HorizonOutputs, HorizonFinalizing:
	default:
		return fmt.Errorf("syncstate: %s is not a horizon sub-phase", phase)
	}
	m.state = phase
	return nil
}
