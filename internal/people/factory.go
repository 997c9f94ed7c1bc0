package people

import (
	"fmt"

	"kin-go/internal/config"
	"kin-go/internal/kin"
)

// NewPersonStoreFromConfig creates a person store based on the people config type.
func NewPersonStoreFromConfig(cfg config.PeopleConfig, logger kin.Logger) (*Store, error) {
	switch cfg.Type {
	case "file":
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for file person store")
		}
		return NewFileStore(cfg.Path, logger)
	case "memory":
		return NewMemoryStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown person store type: %s", cfg.Type)
	}
}

// Path returns the snapshot file path, or "" for a memory store.
func (s *Store) Path() string {
	if s.snap == nil {
		return ""
	}
	return s.snap.path
}
