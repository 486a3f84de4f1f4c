package sessions

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	PrintSessions(&buf, []model.Session{
		{ID: "s1", Name: "Monaco GP", Circuit: "Monaco", Date: "2024-05-26",
			Status: model.SessionLive, Drivers: []model.Driver{{ID: "VER"}, {ID: "LEC"}}},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Equal(t, []string{"s1", "Monaco", "GP", "Monaco", "2024-05-26", "live", "2"},
		strings.Fields(lines[1]))
}
