package store

import (
	"context"
	"time"

	"github.com/modwatch/modlog-listener/internal/models"
)

// SchemaVersion is the record-store schema this code expects. A store
// persisted with any other version is refused at startup, never
// migrated in place.
const SchemaVersion = 4

// RawSchemaVersion is the schema tag of the optional raw-snapshot
// store, versioned independently of the record store.
const RawSchemaVersion = 1

// Meta table keys.
const (
	metaKeySchemaVersion = "schema_version"
	metaKeyNewestID      = "newest_modaction_id"
	metaKeyNewestTS      = "newest_modaction_timestamp"
)

// Store is the deduplicated mod-action store plus the watermark
// metadata that drives incremental fetching.
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error

	// Schema lifecycle. IsInitialized fails hard on a schema version
	// other than SchemaVersion.
	IsInitialized(ctx context.Context) (bool, error)
	Initialize(ctx context.Context) error

	// Record operations. Insert is expected to be preceded by an
	// Exists check; a duplicate-key failure signals a caller bug.
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, ma *models.ModAction) error
	CountRecords(ctx context.Context) (int64, error)

	// Watermark operations
	GetWatermark(ctx context.Context) (models.Watermark, error)
	SetWatermark(ctx context.Context, w models.Watermark) error

	// Statistics
	GetStats() (*StoreStats, error)
}

// StoreStats provides store statistics for the status endpoint
type StoreStats struct {
	Type         string           `json:"type"`
	TotalRecords int64            `json:"total_records"`
	Watermark    models.Watermark `json:"watermark"`
	Healthy      bool             `json:"healthy"`
	LastPing     time.Time        `json:"last_ping"`
}

// StoreConfig holds store configuration
type StoreConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
