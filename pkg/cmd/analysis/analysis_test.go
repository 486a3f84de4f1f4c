package analysis

import (
	"bytes"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	err := writeJSON(&buf, &model.DriverComparison{
		SessionID: "s1",
		Driver1:   model.DriverStats{ID: "VER"},
		Driver2:   model.DriverStats{ID: "HAM"},
	})
	assert.NilError(t, err)
	assert.Assert(t, bytes.Contains(buf.Bytes(), []byte(`  "session_id": "s1",`)))
}

func TestCommandTree(t *testing.T) {
	cmd := NewAnalysisCmd()
	names := []string{}
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.DeepEqual(t, names, []string{"compare", "driver", "telemetry"})
	assert.Assert(t, cmd.PersistentFlags().Lookup("session") != nil)
}
