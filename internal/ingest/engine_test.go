package ingest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/internal/store"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher replays canned payloads and records the URLs it was asked
// to fetch.
type fakeFetcher struct {
	payloads [][]byte
	errs     []error
	urls     []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	i := len(f.urls)
	f.urls = append(f.urls, url)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.payloads) {
		return f.payloads[i], nil
	}
	return nil, utils.NewAppError(utils.ErrCodeFetch, "No more canned payloads", url)
}

// convertBatch decodes a canned payload holding pre-normalized records.
func convertBatch(data []byte) []models.ModAction {
	var batch []models.ModAction
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil
	}
	return batch
}

func payload(t *testing.T, batch []models.ModAction) []byte {
	t.Helper()
	data, err := json.Marshal(batch)
	require.NoError(t, err)
	return data
}

func action(id string, ts int64) models.ModAction {
	return models.ModAction{
		ID:        id,
		Timestamp: ts,
		Moderator: "alice",
		Platform:  "reddit",
		Place:     "testsub",
		Action:    "remove",
		Object:    "comment by bob",
		RawAction: "removecomment",
	}
}

func newTestEngine(t *testing.T, fetcher *fakeFetcher, cfg *EngineConfig) (*Engine, store.Store) {
	t.Helper()

	st := store.NewSQLiteStore(&store.StoreConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "modlog.sqlite"),
	})
	require.NoError(t, st.Connect())
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = &EngineConfig{FeedURL: "https://example.com/log.json?limit=100"}
	}
	return NewEngine(cfg, fetcher, st, convertBatch, nil, nil), st
}

func TestFirstRunSeedsWithoutReporting(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100), action("B", 105), action("C", 103)}),
	}}
	engine, st := newTestEngine(t, fetcher, nil)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	count, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// The watermark is the maximum-timestamp record of the batch.
	w, err := st.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "B", Timestamp: 105}, w)
}

func TestSecondCycleReportsOnlyNewRecords(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100), action("B", 105), action("C", 103)}),
		payload(t, []models.ModAction{action("B", 105), action("D", 110)}),
	}}
	engine, st := newTestEngine(t, fetcher, nil)

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "D", records[0].ID)

	count, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	w, err := st.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "D", Timestamp: 110}, w)
}

func TestRepeatedBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	batch := payload(t, []models.ModAction{action("A", 100), action("B", 105)})
	fetcher := &fakeFetcher{payloads: [][]byte{batch, batch, batch}}
	engine, st := newTestEngine(t, fetcher, nil)

	for i := 0; i < 3; i++ {
		records, err := engine.RunCycle(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	}

	count, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStaleMissingRecordIsSavedAndReported(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("X", 200)}),
		// Y is older than the watermark yet missing from the store.
		payload(t, []models.ModAction{action("Y", 150)}),
	}}
	engine, st := newTestEngine(t, fetcher, nil)

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Y", records[0].ID)

	// The watermark never regresses.
	w, err := st.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "X", Timestamp: 200}, w)
}

func TestExcludedActionsAdvanceWatermarkWithoutReporting(t *testing.T) {
	ctx := context.Background()
	flair := action("F", 120)
	flair.RawAction = "editflair"

	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100)}),
		payload(t, []models.ModAction{flair}),
	}}
	engine, st := newTestEngine(t, fetcher, &EngineConfig{
		FeedURL:         "https://example.com/log.json?limit=100",
		ExcludedActions: []string{"editflair"},
	})

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	exists, err := st.Exists(ctx, "F")
	require.NoError(t, err)
	assert.False(t, exists)

	// Excluded records still move the cursor so they are not re-fetched.
	w, err := st.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "F", Timestamp: 120}, w)
}

func TestFetchFailureEndsCycleCleanly(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		errs: []error{utils.NewAppError(utils.ErrCodeFetch, "Retry budget exhausted", "example.com")},
	}
	engine, st := newTestEngine(t, fetcher, nil)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The store was still initialized, so the next cycle is no longer a
	// first run.
	initialized, err := st.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)

	stats := engine.GetStats()
	assert.Equal(t, uint64(1), stats.CyclesRun)
	assert.Equal(t, uint64(1), stats.FetchFailures)
}

func TestCursorAppliedAfterFirstRun(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100)}),
		payload(t, []models.ModAction{action("A", 100)}),
	}}
	engine, _ := newTestEngine(t, fetcher, &EngineConfig{
		FeedURL:        "https://example.com/log.json?limit=100",
		CursorParam:    "before",
		SupportsCursor: true,
	})

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, fetcher.urls, 2)
	assert.Equal(t, "https://example.com/log.json?limit=100", fetcher.urls[0])
	assert.Equal(t, "https://example.com/log.json?before=A&limit=100", fetcher.urls[1])
}

func TestCursorNotAppliedWhenUnsupported(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100)}),
		payload(t, []models.ModAction{action("A", 100)}),
	}}
	engine, _ := newTestEngine(t, fetcher, &EngineConfig{
		FeedURL:        "https://example.com/log.rss",
		CursorParam:    "before",
		SupportsCursor: false,
	})

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	_, err = engine.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, fetcher.urls, 2)
	assert.Equal(t, fetcher.urls[0], fetcher.urls[1])
}

func TestEmptyBatchKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100)}),
		payload(t, []models.ModAction{}),
	}}
	engine, st := newTestEngine(t, fetcher, nil)

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	records, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	w, err := st.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "A", Timestamp: 100}, w)
}

// fakeRawSaver records every batch handed to it.
type fakeRawSaver struct {
	batches [][]models.ModAction
	err     error
}

func (f *fakeRawSaver) SaveBatch(ctx context.Context, actions []models.ModAction) error {
	f.batches = append(f.batches, actions)
	return f.err
}

func TestRawSaverReceivesUnfilteredBatch(t *testing.T) {
	ctx := context.Background()
	flair := action("F", 120)
	flair.RawAction = "editflair"

	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100), flair}),
	}}

	st := store.NewSQLiteStore(&store.StoreConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "modlog.sqlite"),
	})
	require.NoError(t, st.Connect())
	defer st.Close()

	saver := &fakeRawSaver{}
	engine := NewEngine(&EngineConfig{
		FeedURL:         "https://example.com/log.json",
		ExcludedActions: []string{"editflair"},
	}, fetcher, st, convertBatch, saver, nil)

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, saver.batches, 1)
	// Filtering happens after raw retention.
	assert.Len(t, saver.batches[0], 2)
}

func TestRawSaverFailureDoesNotFailCycle(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{payloads: [][]byte{
		payload(t, []models.ModAction{action("A", 100)}),
	}}

	st := store.NewSQLiteStore(&store.StoreConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "modlog.sqlite"),
	})
	require.NoError(t, st.Connect())
	defer st.Close()

	saver := &fakeRawSaver{err: utils.NewAppError(utils.ErrCodeDatabase, "disk full")}
	engine := NewEngine(&EngineConfig{FeedURL: "https://example.com/log.json"},
		fetcher, st, convertBatch, saver, nil)

	_, err := engine.RunCycle(ctx)
	require.NoError(t, err)

	count, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
