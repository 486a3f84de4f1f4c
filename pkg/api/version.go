package api

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

const RequiredBackendVersion = "v1.0.0"

type rootInfo struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// BackendVersion returns the version announced on the root endpoint
func (c *Client) BackendVersion(ctx context.Context) (string, error) {
	var info rootInfo
	if err := c.get(ctx, "/", nil, &info); err != nil {
		return "", err
	}
	return info.Version, nil
}

// CheckVersion fails if the backend is older than minVersion
// (empty minVersion means RequiredBackendVersion)
func (c *Client) CheckVersion(ctx context.Context, minVersion string) error {
	if minVersion == "" {
		minVersion = RequiredBackendVersion
	}
	v, err := c.BackendVersion(ctx)
	if err != nil {
		return err
	}
	if !IsCompatible(v, minVersion) {
		return fmt.Errorf("backend version %q is older than required %q", v, minVersion)
	}
	return nil
}

func IsCompatible(toCheck, minVersion string) bool {
	canon := func(s string) string {
		if !strings.HasPrefix(s, "v") {
			return "v" + s
		}
		return s
	}
	toCheck = canon(toCheck)
	if !semver.IsValid(toCheck) {
		return false
	}
	return semver.Compare(toCheck, canon(minVersion)) >= 0
}
