package store

import (
	"strings"

	"github.com/modwatch/modlog-listener/pkg/utils"
)

// NewStore creates a store backend based on configuration
func NewStore(cfg *StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "sqlite":
		return NewSQLiteStore(cfg), nil
	case "postgres", "postgresql":
		return NewPostgresStore(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported store type", cfg.Type)
	}
}
