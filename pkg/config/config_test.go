package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	PollInterval, ReconnectBase, ReconnectMax = "2s", "500ms", "10s"
	UnreliableAfter, ReconnectJitter, BattleThreshold = 5, 0.2, 1.5
	t.Cleanup(func() {
		PollInterval, ReconnectBase, ReconnectMax = "", "", ""
		UnreliableAfter, ReconnectJitter, BattleThreshold = 0, 0, 0
	})

	cfg := Resolve()
	assert.Equal(t, Config{
		PollInterval:    2 * time.Second,
		UnreliableAfter: 5,
		ReconnectBase:   500 * time.Millisecond,
		ReconnectMax:    10 * time.Second,
		ReconnectJitter: 0.2,
		BackendLocation: time.Local,
		BattleThreshold: 1.5,
	}, cfg)
}

func TestResolveBackendTimezone(t *testing.T) {
	t.Cleanup(func() { BackendTimezone = "" })

	BackendTimezone = "UTC"
	assert.Equal(t, time.UTC, Resolve().BackendLocation)

	BackendTimezone = "Nowhere/Atlantis"
	assert.Equal(t, time.Local, Resolve().BackendLocation)
}

func TestResolveDefaults(t *testing.T) {
	PollInterval, ReconnectBase, ReconnectMax = "soon", "-1s", ""
	UnreliableAfter, ReconnectJitter, BattleThreshold = 0, 3, -1
	t.Cleanup(func() {
		PollInterval, ReconnectBase, ReconnectMax = "", "", ""
		UnreliableAfter, ReconnectJitter, BattleThreshold = 0, 0, 0
	})

	cfg := Resolve()
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.UnreliableAfter)
	assert.Equal(t, time.Second, cfg.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMax)
	assert.Zero(t, cfg.ReconnectJitter)
	assert.InDelta(t, 2.0, cfg.BattleThreshold, 1e-9)
}
