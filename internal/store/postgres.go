package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store on PostgreSQL for deployments that
// keep the mirror in a shared database instead of an embedded file.
type PostgresStore struct {
	db     *sql.DB
	config *StoreConfig
	logger *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL store instance
func NewPostgresStore(config *StoreConfig) *PostgresStore {
	return &PostgresStore{
		config: config,
		logger: utils.GetLogger(),
	}
}

// Connect establishes the database connection
func (s *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to reach PostgreSQL", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL store connected")
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL store closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Store not connected", "")
	}
	return s.db.Ping()
}

func (s *PostgresStore) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check table existence", err.Error())
	}
	return exists, nil
}

// IsInitialized reports whether the schema has been set up, refusing
// any schema version other than SchemaVersion.
func (s *PostgresStore) IsInitialized(ctx context.Context) (bool, error) {
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

	value, err := s.getMetaValue(ctx, metaKeySchemaVersion)
	if err != nil {
		return false, err
	}
	version, _ := strconv.Atoi(value)
	if version != SchemaVersion {
		return false, utils.NewAppError(utils.ErrCodeSchema,
			"Unsupported schema version",
			fmt.Sprintf("found %d, expected %d", version, SchemaVersion))
	}
	return true, nil
}

// Initialize creates the record and meta tables as one atomic setup
func (s *PostgresStore) Initialize(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE modlog (
			id        TEXT,
			timestamp BIGINT,
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
			"INSERT INTO modlog_meta (key, value) VALUES ($1, $2)", row[0], row[1]); err != nil {
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
func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM modlog WHERE id = $1", id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check record existence", err.Error())
	}
	return true, nil
}

// Insert persists one record; duplicate keys signal a caller bug
func (s *PostgresStore) Insert(ctx context.Context, ma *models.ModAction) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO modlog (id, timestamp, moderator, place, action, object, details) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		ma.ID, ma.Timestamp, ma.Moderator, ma.Place, ma.Action, ma.Object, ma.Details)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert record", err.Error())
	}
	return nil
}

// CountRecords returns the number of stored records
func (s *PostgresStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM modlog").Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count records", err.Error())
	}
	return count, nil
}

// GetWatermark returns the newest-seen record id and timestamp
func (s *PostgresStore) GetWatermark(ctx context.Context) (models.Watermark, error) {
	id, err := s.getMetaValue(ctx, metaKeyNewestID)
	if err != nil {
		return models.Watermark{}, err
	}
	if id == "" {
		return models.Watermark{}, nil
	}
	value, err := s.getMetaValue(ctx, metaKeyNewestTS)
	if err != nil {
		return models.Watermark{}, err
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return models.Watermark{}, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt meta value", metaKeyNewestTS+"="+value)
	}
	return models.Watermark{ID: id, Timestamp: ts}, nil
}

// SetWatermark records the newest-seen id and timestamp
func (s *PostgresStore) SetWatermark(ctx context.Context, w models.Watermark) error {
	if err := s.setMetaValue(ctx, metaKeyNewestID, w.ID); err != nil {
		return err
	}
	return s.setMetaValue(ctx, metaKeyNewestTS, strconv.FormatInt(w.Timestamp, 10))
}

// GetStats returns store statistics
func (s *PostgresStore) GetStats() (*StoreStats, error) {
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
		Type:         "postgres",
		TotalRecords: count,
		Watermark:    watermark,
		Healthy:      s.Ping() == nil,
		LastPing:     time.Now(),
	}, nil
}

func (s *PostgresStore) getMetaValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM modlog_meta WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to read meta value", err.Error())
	}
	return value, nil
}

func (s *PostgresStore) setMetaValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE modlog_meta SET value = $1 WHERE key = $2", value, key)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set meta value", err.Error())
	}
	return nil
}
