package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modwatch/modlog-listener/internal/metrics"
	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/internal/parser"
	"github.com/modwatch/modlog-listener/internal/store"
	"github.com/modwatch/modlog-listener/internal/upstream"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Fetcher fetches one raw feed payload. Satisfied by upstream.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// RawSaver persists exact-form snapshots of the unfiltered batch.
// Satisfied by store.RawStore.
type RawSaver interface {
	SaveBatch(ctx context.Context, actions []models.ModAction) error
}

// EngineConfig holds reconciliation engine configuration
type EngineConfig struct {
	FeedURL         string   `json:"feed_url"`
	CursorParam     string   `json:"cursor_param"`
	SupportsCursor  bool     `json:"supports_cursor"`
	ExcludedActions []string `json:"excluded_actions"`
}

// EngineStats provides reconciliation statistics
type EngineStats struct {
	CyclesRun      uint64     `json:"cycles_run"`
	FetchFailures  uint64     `json:"fetch_failures"`
	TotalInserted  uint64     `json:"total_inserted"`
	TotalReported  uint64     `json:"total_reported"`
	LastCycleAt    *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleNew   int        `json:"last_cycle_new"`
	LastError      *string    `json:"last_error,omitempty"`
	LastErrorTime  *time.Time `json:"last_error_time,omitempty"`
}

// Engine drives one reconciliation cycle per call: fetch the feed from
// the current cursor position, parse and filter it, persist records not
// seen before, and advance the newest-seen watermark. It returns the
// records that are genuinely new so the caller can forward them to the
// notification sink.
type Engine struct {
	client      Fetcher
	store       store.Store
	rawStore    RawSaver
	convert     parser.ConverterFn
	config      *EngineConfig
	excluded    map[string]struct{}
	logger      *logrus.Logger
	promMetrics *metrics.PrometheusMetrics

	mu    sync.Mutex
	stats EngineStats
}

// NewEngine creates a reconciliation engine. rawStore and promMetrics
// may be nil when raw retention or metrics are disabled.
func NewEngine(config *EngineConfig, client Fetcher, st store.Store, convert parser.ConverterFn, rawStore RawSaver, promMetrics *metrics.PrometheusMetrics) *Engine {
	excluded := make(map[string]struct{}, len(config.ExcludedActions))
	for _, action := range config.ExcludedActions {
		excluded[action] = struct{}{}
	}

	return &Engine{
		client:      client,
		store:       st,
		rawStore:    rawStore,
		convert:     convert,
		config:      config,
		excluded:    excluded,
		logger:      utils.GetLogger(),
		promMetrics: promMetrics,
	}
}

// RunCycle runs one reconciliation cycle and returns the newly observed
// records in ascending timestamp order. A fetch failure is routine: the
// cycle ends with no records and no error, and the next poll retries.
func (e *Engine) RunCycle(ctx context.Context) ([]models.ModAction, error) {
	start := time.Now()

	records, err := e.runCycle(ctx)

	e.mu.Lock()
	e.stats.CyclesRun++
	now := time.Now()
	e.stats.LastCycleAt = &now
	e.stats.LastCycleNew = len(records)
	e.stats.TotalReported += uint64(len(records))
	if err != nil {
		errStr := err.Error()
		e.stats.LastError = &errStr
		e.stats.LastErrorTime = &now
	}
	e.mu.Unlock()

	if e.promMetrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.promMetrics.RecordCycle(status, time.Since(start))
		e.promMetrics.RecordsReported.Add(float64(len(records)))
	}

	return records, err
}

func (e *Engine) runCycle(ctx context.Context) ([]models.ModAction, error) {
	// A store that was never initialized means this is the first run:
	// seed it silently instead of replaying full history downstream.
	initialized, err := e.store.IsInitialized(ctx)
	if err != nil {
		return nil, err
	}
	firstRun := !initialized
	if firstRun {
		if err := e.store.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	watermark := models.Watermark{}
	if !firstRun {
		watermark, err = e.store.GetWatermark(ctx)
		if err != nil {
			return nil, err
		}
	}

	url := e.config.FeedURL
	if e.config.SupportsCursor && !watermark.IsZero() {
		url, err = upstream.ReplaceQueryParam(url, e.config.CursorParam, watermark.ID)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to build cursor URL", err.Error())
		}
	}

	data, err := e.client.Fetch(ctx, url)
	if err != nil {
		// Could not fetch anything, try again next poll.
		e.mu.Lock()
		e.stats.FetchFailures++
		e.mu.Unlock()
		if e.promMetrics != nil {
			e.promMetrics.FetchFailuresTotal.Inc()
		}
		e.logger.WithField("error", err.Error()).Info("No upstream data this cycle")
		return nil, nil
	}

	batch := e.convert(data)
	if e.promMetrics != nil {
		e.promMetrics.RecordsParsedTotal.Add(float64(len(batch)))
	}

	// Parsers may emit out of chronological order.
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp < batch[j].Timestamp
	})

	if e.rawStore != nil {
		// Raw retention is audit-only and must not fail the cycle.
		if err := e.rawStore.SaveBatch(ctx, batch); err != nil {
			e.logger.WithField("error", err.Error()).Warn("Failed to save raw snapshots")
		}
	}

	filtered := e.filterExcluded(batch)

	if firstRun {
		for i := range filtered {
			if err := e.insert(ctx, &filtered[i]); err != nil {
				return nil, err
			}
		}
		// The unfiltered batch advances the watermark so excluded
		// records are never re-fetched.
		if err := e.advanceWatermark(ctx, batch); err != nil {
			return nil, err
		}
		e.logger.WithField("records", len(filtered)).Info("First run: seeded store without reporting")
		return nil, nil
	}

	records, err := e.reconcile(ctx, filtered, watermark)
	if err != nil {
		return nil, err
	}

	if err := e.advanceWatermark(ctx, batch); err != nil {
		return nil, err
	}

	return records, nil
}

// filterExcluded drops records whose raw action code is configured as
// noise. It works on a copy; the unfiltered batch is still needed for
// watermark computation.
func (e *Engine) filterExcluded(batch []models.ModAction) []models.ModAction {
	filtered := make([]models.ModAction, 0, len(batch))
	for _, ma := range batch {
		if _, excluded := e.excluded[ma.RawAction]; excluded {
			if e.promMetrics != nil {
				e.promMetrics.RecordsFiltered.Inc()
			}
			continue
		}
		filtered = append(filtered, ma)
	}
	return filtered
}

// reconcile walks the filtered batch in ascending timestamp order and
// inserts every record the store has not seen, collecting those for the
// caller. Stored records are authoritative and never overwritten.
func (e *Engine) reconcile(ctx context.Context, filtered []models.ModAction, watermark models.Watermark) ([]models.ModAction, error) {
	var records []models.ModAction

	for i := range filtered {
		ma := &filtered[i]

		exists, err := e.store.Exists(ctx, ma.ID)
		if err != nil {
			return nil, err
		}

		// Strict < so records from the same second as the newest seen
		// one do not count as older. The watermark may still be unset.
		older := !watermark.IsZero() && ma.Timestamp < watermark.Timestamp

		if !exists {
			if older {
				e.logger.WithFields(logrus.Fields{
					"id":        ma.ID,
					"timestamp": ma.Timestamp,
					"watermark": watermark.Timestamp,
				}).Warn("Fetched mod action is older than the newest seen one AND missing from the store, saving")
				if e.promMetrics != nil {
					e.promMetrics.RecordWatermarkAnomaly("stale_missing")
				}
			}
			if err := e.insert(ctx, ma); err != nil {
				return nil, err
			}
			records = append(records, *ma)
			continue
		}

		if older {
			e.logger.WithFields(logrus.Fields{
				"id":        ma.ID,
				"timestamp": ma.Timestamp,
			}).Warn("Fetched mod action already exists and is older than the newest seen one, keeping stored version")
		} else {
			// Either the db was altered, or upstream mutated the
			// record, or an id was reused. The stored row stays.
			e.logger.WithFields(logrus.Fields{
				"id":        ma.ID,
				"timestamp": ma.Timestamp,
				"watermark": watermark.Timestamp,
			}).Warn("Fetched mod action already exists BUT its timestamp is same or newer than the newest seen one; keeping stored version")
			if e.promMetrics != nil {
				e.promMetrics.RecordWatermarkAnomaly("exists_not_older")
			}
		}
	}

	return records, nil
}

func (e *Engine) insert(ctx context.Context, ma *models.ModAction) error {
	if err := e.store.Insert(ctx, ma); err != nil {
		return err
	}
	e.mu.Lock()
	e.stats.TotalInserted++
	e.mu.Unlock()
	if e.promMetrics != nil {
		e.promMetrics.RecordsInserted.Inc()
	}
	return nil
}

// advanceWatermark recomputes the watermark from the maximum-timestamp
// record of the unfiltered, timestamp-sorted batch. Regressions and
// identical no-ops are rejected with a warning, never applied.
func (e *Engine) advanceWatermark(ctx context.Context, sortedBatch []models.ModAction) error {
	if len(sortedBatch) == 0 {
		return nil
	}
	newest := sortedBatch[len(sortedBatch)-1]
	candidate := models.Watermark{ID: newest.ID, Timestamp: newest.Timestamp}

	current, err := e.store.GetWatermark(ctx)
	if err != nil {
		return err
	}

	if !current.IsZero() && candidate.Timestamp < current.Timestamp {
		e.logger.WithFields(logrus.Fields{
			"candidate_id": candidate.ID,
			"candidate_ts": candidate.Timestamp,
			"current_id":   current.ID,
			"current_ts":   current.Timestamp,
		}).Warn("Not updating newest mod action: candidate is OLDER than the current one")
		if e.promMetrics != nil {
			e.promMetrics.RecordWatermarkAnomaly("regression")
		}
		return nil
	}
	if !current.IsZero() && candidate.Timestamp == current.Timestamp && candidate.ID == current.ID {
		e.logger.WithFields(logrus.Fields{
			"id":        current.ID,
			"timestamp": current.Timestamp,
		}).Warn("Not updating newest mod action with identical id and timestamp. Bug?")
		if e.promMetrics != nil {
			e.promMetrics.RecordWatermarkAnomaly("duplicate")
		}
		return nil
	}

	if err := e.store.SetWatermark(ctx, candidate); err != nil {
		return err
	}
	if e.promMetrics != nil {
		e.promMetrics.UpdateWatermark(candidate.Timestamp)
	}
	return nil
}

// GetStats returns a snapshot of engine statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
