package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachineTransitions(t *testing.T) {
	tcases := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"full lifecycle", []State{StateAuthenticated, StateAuthorized, StateSubscribed, StateClosing, StateClosed}, true},
		{"refused after authentication", []State{StateAuthenticated, StateClosed}, true},
		{"closed from connecting", []State{StateClosed}, true},
		{"skip authorization", []State{StateAuthenticated, StateSubscribed}, false},
		{"skip authentication", []State{StateAuthorized}, false},
		{"backwards", []State{StateAuthenticated, StateAuthorized, StateAuthenticated}, false},
		{"closed is terminal", []State{StateClosed, StateClosing}, false},
		{"closed twice", []State{StateClosed, StateClosed}, false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var sm stateMachine
			var err error
			for _, to := range tc.path {
				if err = sm.transition(to); err != nil {
					break
				}
			}

			if tc.valid {
				assert.NoError(t, err)
				assert.Equal(t, tc.path[len(tc.path)-1], sm.State())
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "subscribed", StateSubscribed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
