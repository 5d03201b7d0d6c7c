package config

import (
	"fmt"
	"path/filepath"

	"github.com/agentworkforce/relaytimeline/internal/timeline"
)

// ResolveStateBackendDSN resolves the snapshot backend. An explicit DSN wins over
// the profile. An empty result means no persistence.
func (c Config) ResolveStateBackendDSN() (string, error) {
	if c.StateBackendDSN != "" {
		return c.StateBackendDSN, nil
	}
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = ".relaytimeline"
	}
	switch c.BackendProfile {
	case "", "custom":
		return "", nil
	case "memory", "inmemory":
		return "memory://", nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "timelines"), nil
	case "production", "prod":
		if c.PostgresDSN == "" {
			return "", fmt.Errorf("RELAYTIMELINE_POSTGRES_DSN is required when RELAYTIMELINE_BACKEND_PROFILE=%s", c.BackendProfile)
		}
		return c.PostgresDSN, nil
	default:
		return "", fmt.Errorf("unsupported RELAYTIMELINE_BACKEND_PROFILE: %s", c.BackendProfile)
	}
}

func (c Config) BuildStateBackend() (timeline.StateBackend, error) {
	dsn, err := c.ResolveStateBackendDSN()
	if err != nil {
		return nil, err
	}
	return timeline.BuildStateBackendFromDSN(dsn)
}
