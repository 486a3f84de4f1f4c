package model

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestIndicator(t *testing.T) {
	tests := []struct {
		name  string
		state ConnectionState
		want  string
	}{
		{"initial", ConnectionState{}, "Disconnected"},
		{"first connect", ConnectionState{State: ConnConnecting}, "Connecting"},
		{"retry connect", ConnectionState{State: ConnConnecting, Attempt: 2}, "Reconnecting"},
		{"open", ConnectionState{State: ConnOpen}, "Live"},
		{"waiting for retry", ConnectionState{State: ConnReconnecting, Attempt: 1}, "Reconnecting"},
		{"closed", ConnectionState{State: ConnClosed}, "Disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Indicator())
		})
	}
}
