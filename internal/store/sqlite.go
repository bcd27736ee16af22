package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database
type SQLiteStore struct {
	db     *sql.DB
	config *StoreConfig
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(config *StoreConfig) *SQLiteStore {
	return &SQLiteStore{
		config: config,
		logger: utils.GetLogger(),
	}
}

// Connect opens the database file, creating its directory if needed
func (s *SQLiteStore) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// The store is owned by the single poll loop goroutine.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite store connected")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite store closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Store not connected", "")
	}
	return s.db.Ping()
}

func (s *SQLiteStore) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check table existence", err.Error())
	}
	return true, nil
}

// IsInitialized reports whether the schema has been set up. A persisted
// schema version other than SchemaVersion is a hard error: the store is
// refused, not migrated.
func (s *SQLiteStore) IsInitialized(ctx context.Context) (bool, error) {
	recordsExist, err := s.tableExists(ctx, "modlog")
	if err != nil {
		return false, err
	}
	metaExists, err := s.tableExists(ctx, "modlog_meta")
	if err != nil {
		return false, err
	}
	if recordsExist != metaExists {
		return false, utils.NewAppError(utils.ErrCodeDatabase,
			"Bad store state", "tables modlog and modlog_meta must either both exist or not exist")
	}
	if !metaExists {
		return false, nil
	}

	version, err := s.getMetaInt(ctx, metaKeySchemaVersion)
	if err != nil {
		return false, err
	}
	if version != SchemaVersion {
		return false, utils.NewAppError(utils.ErrCodeSchema,
			"Unsupported schema version",
			fmt.Sprintf("found %d, expected %d", version, SchemaVersion))
	}
	return true, nil
}

// Initialize creates the record and meta tables as one atomic setup
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE modlog (
			id        TEXT,
			timestamp INTEGER,
			moderator TEXT,
			place     TEXT,
			action    TEXT,
			object    TEXT,
			details   TEXT,
			PRIMARY KEY (id)
		)
	`); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create modlog table", err.Error())
	}

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE modlog_meta (
			key   TEXT,
			value TEXT
		)
	`); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create modlog_meta table", err.Error())
	}

	for _, row := range [][2]string{
		{metaKeySchemaVersion, strconv.Itoa(SchemaVersion)},
		{metaKeyNewestID, ""},
		{metaKeyNewestTS, ""},
	} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO modlog_meta (key, value) VALUES (?, ?)", row[0], row[1]); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to seed modlog_meta", err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit schema setup", err.Error())
	}

	s.logger.Info("Initialized modlog store")
	return nil
}

// Exists reports whether a record with the given id is already stored
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM modlog WHERE id = ?", id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check record existence", err.Error())
	}
	return true, nil
}

// Insert persists one record. The stored version of a record is
// authoritative: callers check Exists first, so a duplicate-key failure
// here signals a bug rather than routine input.
func (s *SQLiteStore) Insert(ctx context.Context, ma *models.ModAction) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO modlog (id, timestamp, moderator, place, action, object, details) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ma.ID, ma.Timestamp, ma.Moderator, ma.Place, ma.Action, ma.Object, ma.Details)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert record", err.Error())
	}
	return nil
}

// CountRecords returns the number of stored records
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM modlog").Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}
	return count, nil
}

// GetWatermark returns the newest-seen record id and timestamp
func (s *SQLiteStore) GetWatermark(ctx context.Context) (models.Watermark, error) {
	id, err := s.getMetaValue(ctx, metaKeyNewestID)
	if err != nil {
		return models.Watermark{}, err
	}
	if id == "" {
		return models.Watermark{}, nil
	}
	ts, err := s.getMetaInt64(ctx, metaKeyNewestTS)
	if err != nil {
		return models.Watermark{}, err
	}
	return models.Watermark{ID: id, Timestamp: ts}, nil
}

// SetWatermark records the newest-seen id and timestamp
func (s *SQLiteStore) SetWatermark(ctx context.Context, w models.Watermark) error {
	if err := s.setMetaValue(ctx, metaKeyNewestID, w.ID); err != nil {
		return err
	}
	return s.setMetaValue(ctx, metaKeyNewestTS, strconv.FormatInt(w.Timestamp, 10))
}

// GetStats returns store statistics
func (s *SQLiteStore) GetStats() (*StoreStats, error) {
	ctx := context.Background()
	count, err := s.CountRecords(ctx)
	if err != nil {
		return nil, err
	}
	watermark, err := s.GetWatermark(ctx)
	if err != nil {
		return nil, err
	}
	return &StoreStats{
		Type:         "sqlite",
		TotalRecords: count,
		Watermark:    watermark,
		Healthy:      s.Ping() == nil,
		LastPing:     time.Now(),
	}, nil
}

func (s *SQLiteStore) getMetaValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM modlog_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to read meta value", err.Error())
	}
	return value, nil
}

func (s *SQLiteStore) getMetaInt(ctx context.Context, key string) (int, error) {
	v, err := s.getMetaInt64(ctx, key)
	return int(v), err
}

func (s *SQLiteStore) getMetaInt64(ctx context.Context, key string) (int64, error) {
	value, err := s.getMetaValue(ctx, key)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt meta value", key+"="+value)
	}
	return n, nil
}

func (s *SQLiteStore) setMetaValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE modlog_meta SET value = ? WHERE key = ?", value, key)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set meta value", err.Error())
	}
	return nil
}
