package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// RawStore keeps exact-form snapshots of upstream mod actions in a
// separate SQLite file for audit and debugging. It is write-only from
// the ingestion path: snapshots are inserted if absent and never
// overwritten or read back by reconciliation.
type RawStore struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
}

// NewRawStore creates a raw snapshot store backed by the given file
func NewRawStore(path string) *RawStore {
	return &RawStore{
		path:   path,
		logger: utils.GetLogger(),
	}
}

// Connect opens the snapshot database, creating the schema on first use
func (r *RawStore) Connect() error {
	dir := filepath.Dir(r.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create raw database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", r.path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open raw SQLite database", err.Error())
	}
	db.SetMaxOpenConns(1)
	r.db = db

	initialized, err := r.isInitialized()
	if err != nil {
		db.Close()
		r.db = nil
		return err
	}
	if !initialized {
		if err := r.initialize(); err != nil {
			db.Close()
			r.db = nil
			return err
		}
	}

	r.logger.WithField("path", r.path).Info("Raw snapshot store connected")
	return nil
}

// Close closes the snapshot database
func (r *RawStore) Close() error {
	if r.db != nil {
		err := r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// isInitialized checks the snapshot table and its independent schema
// version tag, kept in PRAGMA user_version.
func (r *RawStore) isInitialized() (bool, error) {
	var name string
	err := r.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='modlog_raw'").Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check raw table existence", err.Error())
	}

	var version int
	if err := r.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read raw schema version", err.Error())
	}
	if version != RawSchemaVersion {
		return false, utils.NewAppError(utils.ErrCodeSchema,
			"Unsupported raw schema version",
			fmt.Sprintf("found %d, expected %d", version, RawSchemaVersion))
	}
	return true, nil
}

func (r *RawStore) initialize() error {
	if _, err := r.db.Exec(`
		CREATE TABLE modlog_raw (
			id        TEXT,
			timestamp INTEGER,
			data      TEXT,
			PRIMARY KEY (id)
		)
	`); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create modlog_raw table", err.Error())
	}
	if _, err := r.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", RawSchemaVersion)); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set raw schema version", err.Error())
	}
	r.logger.Info("Initialized raw snapshot store")
	return nil
}

// SaveBatch inserts snapshots for every record carrying an original
// upstream form, skipping ids that are already present.
func (r *RawStore) SaveBatch(ctx context.Context, actions []models.ModAction) error {
	for i := range actions {
		if err := r.insertIfAbsent(ctx, &actions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *RawStore) insertIfAbsent(ctx context.Context, ma *models.ModAction) error {
	if len(ma.Raw) == 0 {
		return nil
	}
	compact, err := compactJSON(ma.Raw)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to normalize raw snapshot", err.Error())
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO modlog_raw (id, timestamp, data) VALUES (?, ?, ?)",
		ma.ID, ma.Timestamp, compact)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert raw snapshot", err.Error())
	}
	return nil
}

// compactJSON re-encodes a raw JSON object in compact form with sorted
// keys, so stored snapshots are byte-comparable across fetches.
func compactJSON(raw json.RawMessage) (string, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
