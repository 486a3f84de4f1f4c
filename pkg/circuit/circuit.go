// Package circuit resolves the track outline either from a local yaml file
// or from the backend.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mpapenbr/racestate-live/pkg/model"
)

var ErrEmptyCircuit = errors.New("circuit has no points")

// Fetcher is implemented by api.Client
type Fetcher interface {
	GetCircuit(ctx context.Context) (*model.Circuit, error)
}

// LoadFile reads a circuit definition like
//
//	name: Monaco
//	points:
//	  - {lat: 43.7347, lng: 7.4206, name: Start/Finish}
func LoadFile(path string) (*model.Circuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ret model.Circuit
	if err := yaml.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(ret.Points) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyCircuit)
	}
	return &ret, nil
}

// Resolve prefers the file if one is given
func Resolve(ctx context.Context, f Fetcher, file string) (*model.Circuit, error) {
	if file != "" {
		return LoadFile(file)
	}
	c, err := f.GetCircuit(ctx)
	if err != nil {
		return nil, err
	}
	if len(c.Points) == 0 {
		return nil, ErrEmptyCircuit
	}
	return c, nil
}
