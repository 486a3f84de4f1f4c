package circuit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

type fakeFetcher struct {
	c *model.Circuit
}

func (f fakeFetcher) GetCircuit(context.Context) (*model.Circuit, error) {
	return f.c, nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "circuit.yml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
name: Monaco
points:
  - {lat: 43.7347, lng: 7.4206, name: Start/Finish}
  - {lat: 43.7390, lng: 7.4270, name: Sainte Devote}
`)
	c, err := LoadFile(path)
	assert.NilError(t, err)
	assert.Equal(t, c.Name, "Monaco")
	assert.Assert(t, is.Len(c.Points, 2))
	assert.DeepEqual(t, c.Points[1],
		model.CircuitPoint{Lat: 43.7390, Lng: 7.4270, Name: "Sainte Devote"})
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Assert(t, err != nil)

	_, err = LoadFile(writeFile(t, "name: Empty\npoints: []\n"))
	assert.ErrorIs(t, err, ErrEmptyCircuit)

	_, err = LoadFile(writeFile(t, "points: [unclosed"))
	assert.ErrorContains(t, err, "circuit.yml")
}

func TestResolve(t *testing.T) {
	remote := &model.Circuit{Name: "Remote", Points: []model.CircuitPoint{{Name: "T1"}}}
	c, err := Resolve(context.Background(), fakeFetcher{remote}, "")
	assert.NilError(t, err)
	assert.Equal(t, c.Name, "Remote")

	c, err = Resolve(context.Background(), fakeFetcher{remote},
		writeFile(t, "name: Local\npoints:\n  - {lat: 1, lng: 2, name: A}\n"))
	assert.NilError(t, err)
	assert.Equal(t, c.Name, "Local")

	_, err = Resolve(context.Background(), fakeFetcher{&model.Circuit{}}, "")
	assert.ErrorIs(t, err, ErrEmptyCircuit)
}
