package model

import "time"

type ConnState int

const (
	ConnClosed ConnState = iota
	ConnConnecting
	ConnOpen
	ConnReconnecting
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnReconnecting:
		return "reconnecting"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// MarshalText renders the state name in json payloads
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ConnectionState struct {
	State     ConnState `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
	Attempt   int       `json:"attempt,omitempty"`
}

// Indicator is the user facing label for the connection state.
// Attempt tells the first connect from a retry.
func (c ConnectionState) Indicator() string {
	switch c.State {
	case ConnOpen:
		return "Live"
	case ConnConnecting:
		if c.Attempt == 0 {
			return "Connecting"
		}
		return "Reconnecting"
	case ConnReconnecting:
		return "Reconnecting"
	case ConnClosed:
		return "Disconnected"
	}
	return "Disconnected"
}
