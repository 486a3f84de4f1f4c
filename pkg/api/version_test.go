package api

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mpapenbr/racestate-live/testsupport/fakebackend"
)

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		name    string
		toCheck string
		min     string
		want    bool
	}{
		{"equal", "1.0.0", "v1.0.0", true},
		{"newer", "v1.3.2", "1.0.0", true},
		{"older", "0.9.9", "v1.0.0", false},
		{"invalid", "latest", "v1.0.0", false},
		{"prerelease", "v1.0.0-rc1", "v1.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, IsCompatible(tt.toCheck, tt.min), tt.want)
		})
	}
}

func TestCheckVersion(t *testing.T) {
	b := fakebackend.New(fakebackend.WithVersion("1.2.0"))
	defer b.Close()
	c, err := NewClient(b.URL())
	assert.NilError(t, err)

	v, err := c.BackendVersion(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, v, "1.2.0")
	assert.NilError(t, c.CheckVersion(context.Background(), ""))
	assert.ErrorContains(t, c.CheckVersion(context.Background(), "2.0.0"), "older than required")
}
