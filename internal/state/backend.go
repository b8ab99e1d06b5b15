package state

import (
	"context"
	"fmt"

	"github.com/cairn-io/cairn/internal/ir"
)

// DefaultStatePath is where local state lives relative to the config
// directory.
const DefaultStatePath = ".cairn/state.json"

// Backend defines the interface for state storage backends.
type Backend interface {
	// Read loads the state from the backend.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state to the backend.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// BackendConfig holds configuration for a state backend.
type BackendConfig struct {
	Type   string            `json:"type"` // "local", "s3", "gcs", "http"
	Config map[string]string `json:"config"`
}

// NewBackend creates a state backend from configuration.
func NewBackend(cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = DefaultStatePath
		}
		return NewManager(path), nil
	case "s3":
		return newS3Backend(cfg.Config)
	case "gcs":
		return nil, fmt.Errorf("GCS backend not yet implemented")
	case "http":
		return nil, fmt.Errorf("HTTP backend not yet implemented")
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
