package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcvsync/config"
	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/ports"
	"ohlcvsync/internal/storage"
)

// --- Mocks ---

type mockLogger struct{}

func (l *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (l *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (l *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockExchange struct {
	pingErrs      []error // Consumed one per Ping call; nil entries mean success
	pingCall      int
	serverTime    time.Time
	serverTimeErr error
	series        map[domain.Interval]domain.Series
	errs          map[domain.Interval]error
	gotStart      map[domain.Interval]time.Time
	gotEnd        map[domain.Interval]time.Time
}

func (m *mockExchange) Ping(ctx context.Context) error {
	var err error
	if m.pingCall < len(m.pingErrs) {
		err = m.pingErrs[m.pingCall]
	}
	m.pingCall++
	return err
}

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	if m.serverTimeErr != nil {
		return time.Time{}, m.serverTimeErr
	}
	if !m.serverTime.IsZero() {
		return m.serverTime, nil
	}
	return time.Now().UTC(), nil
}

func (m *mockExchange) GetCandlesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (domain.Series, error) {
	if m.gotStart == nil {
		m.gotStart = make(map[domain.Interval]time.Time)
		m.gotEnd = make(map[domain.Interval]time.Time)
	}
	m.gotStart[interval] = start
	m.gotEnd[interval] = end
	if err := m.errs[interval]; err != nil {
		return nil, err
	}
	return m.series[interval], nil
}

type mockHost struct {
	fixtures    map[string]domain.Series // Written into destDir on download
	downloadErr error
	createErrs  []error // Consumed one per CreateVersion call
	createCall  int
	published   map[string][]byte
	notes       string
}

func (m *mockHost) DownloadDataset(ctx context.Context, slug, destDir string) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}
	for name, series := range m.fixtures {
		if err := storage.WriteSeries(filepath.Join(destDir, name), series); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockHost) CreateVersion(ctx context.Context, slug, folder, notes string) error {
	var err error
	if m.createCall < len(m.createErrs) {
		err = m.createErrs[m.createCall]
	}
	m.createCall++
	if err != nil {
		return err
	}

	m.published = make(map[string][]byte)
	m.notes = notes
	entries, readErr := os.ReadDir(folder)
	if readErr != nil {
		return readErr
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(folder, entry.Name()))
		if readErr != nil {
			return readErr
		}
		m.published[entry.Name()] = data
	}
	return nil
}

type mockJournal struct {
	nextID  int64
	runs    map[int64]*domain.Run
	results map[int64][]domain.TimeframeResult
}

func newMockJournal() *mockJournal {
	return &mockJournal{
		runs:    make(map[int64]*domain.Run),
		results: make(map[int64][]domain.TimeframeResult),
	}
}

func (m *mockJournal) CreateRun(ctx context.Context, run *domain.Run) (int64, error) {
	m.nextID++
	run.ID = m.nextID
	copied := *run
	m.runs[run.ID] = &copied
	return run.ID, nil
}

func (m *mockJournal) FinishRun(ctx context.Context, run *domain.Run) error {
	if _, ok := m.runs[run.ID]; !ok {
		return ports.ErrNotFound
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockJournal) AddTimeframeResult(ctx context.Context, runID int64, res domain.TimeframeResult) error {
	m.results[runID] = append(m.results[runID], res)
	return nil
}

func (m *mockJournal) FindRecentRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	return nil, nil
}

func (m *mockJournal) FindTimeframeResults(ctx context.Context, runID int64) ([]domain.TimeframeResult, error) {
	return m.results[runID], nil
}

func (m *mockJournal) Close() error { return nil }

// --- Helpers ---

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DatasetSlug:       "tester/eth-prices",
		DatasetTitle:      "ETH Prices",
		Symbol:            "ETHUSDT",
		HistoryStart:      time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC),
		FileTemplate:      "eth_%s.csv",
		WorkDir:           t.TempDir(),
		MaxAttempts:       3,
		RetryMinDelay:     time.Millisecond,
		RetryMaxDelay:     5 * time.Millisecond,
		UploadMaxAttempts: 2,
	}
}

func candleAt(open time.Time, interval domain.Interval, closePrice string) domain.Candle {
	return domain.Candle{
		OpenTime:                 open,
		CloseTime:                open.Add(interval.Duration() - time.Millisecond),
		Open:                     "100.0",
		High:                     "110.0",
		Low:                      "90.0",
		Close:                    closePrice,
		Volume:                   "12.5",
		QuoteAssetVolume:         "1250.0",
		NumberOfTrades:           42,
		TakerBuyBaseAssetVolume:  "6.0",
		TakerBuyQuoteAssetVolume: "600.0",
	}
}

func seriesFor(interval domain.Interval, start time.Time, n int, closePrice string) domain.Series {
	series := make(domain.Series, 0, n)
	for i := 0; i < n; i++ {
		series = append(series, candleAt(start.Add(time.Duration(i)*interval.Duration()), interval, closePrice))
	}
	return series
}

func newTestService(t *testing.T, exchange *mockExchange, host *mockHost, journal *mockJournal) *UpdateService {
	t.Helper()
	svc, err := NewUpdateService(testConfig(t), &mockLogger{}, exchange, host, journal)
	require.NoError(t, err)
	return svc
}

func parsePublished(t *testing.T, data []byte) domain.Series {
	t.Helper()
	path := filepath.Join(t.TempDir(), "published.csv")
	require.NoError(t, os.WriteFile(path, data, 0644))
	series, err := storage.ReadSeries(path)
	require.NoError(t, err)
	return series
}

// --- Tests ---

func TestNewUpdateService_MissingDependencies(t *testing.T) {
	_, err := NewUpdateService(nil, &mockLogger{}, &mockExchange{}, &mockHost{}, newMockJournal())
	assert.Error(t, err)

	_, err = NewUpdateService(testConfig(t), &mockLogger{}, nil, &mockHost{}, newMockJournal())
	assert.Error(t, err)
}

func TestRun_Success(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	exchange := &mockExchange{series: make(map[domain.Interval]domain.Series)}
	host := &mockHost{fixtures: make(map[string]domain.Series)}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		existing := seriesFor(interval, base, 3, "100.0")
		host.fixtures["eth_"+string(interval)+".csv"] = existing
		// Fresh batch re-fetches the last existing candle with a revised
		// close and adds two new ones.
		fresh := seriesFor(interval, base.Add(2*interval.Duration()), 3, "105.5")
		exchange.series[interval] = fresh
	}

	svc := newTestService(t, exchange, host, journal)
	err := svc.Run(context.Background(), 1)
	require.NoError(t, err)

	require.NotNil(t, host.published)
	assert.Contains(t, host.notes, "Update ")
	assert.Contains(t, host.published, "dataset-metadata.json")

	for _, interval := range domain.Intervals() {
		name := "eth_" + string(interval) + ".csv"
		require.Contains(t, host.published, name)
		merged := parsePublished(t, host.published[name])
		require.Len(t, merged, 5, "3 existing + 2 new for %s", interval)
		assert.Equal(t, "105.5", merged[2].Close, "revised candle replaces the stale close for %s", interval)
		assert.True(t, merged.IsStrictlyOrdered())

		// Fetch resumes from the last published open time
		assert.True(t, exchange.gotStart[interval].Equal(base.Add(2*interval.Duration())))
	}

	run := journal.runs[1]
	require.NotNil(t, run)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Len(t, journal.results[1], 4)
}

func TestRun_FirstRunStartsAtHistoryStart(t *testing.T) {
	exchange := &mockExchange{series: make(map[domain.Interval]domain.Series)}
	host := &mockHost{} // No fixtures: nothing published yet
	journal := newMockJournal()

	base := time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC)
	for _, interval := range domain.Intervals() {
		exchange.series[interval] = seriesFor(interval, base, 2, "100.0")
	}

	svc := newTestService(t, exchange, host, journal)
	require.NoError(t, svc.Run(context.Background(), 1))

	for _, interval := range domain.Intervals() {
		assert.True(t, exchange.gotStart[interval].Equal(base), "fetch starts at history start for %s", interval)
	}
}

func TestRun_FetchWindowAnchoredOnServerTime(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	serverNow := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	exchange := &mockExchange{serverTime: serverNow, series: make(map[domain.Interval]domain.Series)}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		exchange.series[interval] = seriesFor(interval, base, 2, "100.0")
	}

	svc := newTestService(t, exchange, &mockHost{}, journal)
	require.NoError(t, svc.Run(context.Background(), 1))

	for _, interval := range domain.Intervals() {
		assert.True(t, exchange.gotEnd[interval].Equal(serverNow),
			"fetch window for %s ends at the exchange clock, not the local one", interval)
	}
}

func TestRun_ServerTimeUnavailableFallsBackToLocalClock(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	exchange := &mockExchange{
		serverTimeErr: fmt.Errorf("clock endpoint down: %w", ports.ErrConnectionFailed),
		series:        make(map[domain.Interval]domain.Series),
	}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		exchange.series[interval] = seriesFor(interval, base, 2, "100.0")
	}

	before := time.Now().UTC()
	svc := newTestService(t, exchange, &mockHost{}, journal)
	require.NoError(t, svc.Run(context.Background(), 1), "an unreadable server clock does not fail the run")
	after := time.Now().UTC()

	for _, interval := range domain.Intervals() {
		end := exchange.gotEnd[interval]
		assert.False(t, end.Before(before) || end.After(after), "fallback window end comes from the local clock")
	}
}

func TestRun_AllTimeframesFailed(t *testing.T) {
	exchange := &mockExchange{errs: make(map[domain.Interval]error)}
	host := &mockHost{fixtures: make(map[string]domain.Series)}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		exchange.errs[interval] = fmt.Errorf("exchange down: %w", ports.ErrConnectionFailed)
	}

	svc := newTestService(t, exchange, host, journal)
	err := svc.Run(context.Background(), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrAllTimeframesFailed)

	assert.Equal(t, 0, host.createCall, "nothing should be published when every timeframe failed")
	assert.Equal(t, domain.RunFailed, journal.runs[1].Status)
	assert.Len(t, journal.results[1], 4, "per-timeframe outcomes are still recorded")
}

func TestRun_PartialFailureStillPublishes(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	exchange := &mockExchange{
		series: make(map[domain.Interval]domain.Series),
		errs:   map[domain.Interval]error{domain.Interval4h: errors.New("fetch timed out")},
	}
	host := &mockHost{fixtures: make(map[string]domain.Series)}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		host.fixtures["eth_"+string(interval)+".csv"] = seriesFor(interval, base, 3, "100.0")
		exchange.series[interval] = seriesFor(interval, base.Add(3*interval.Duration()), 1, "101.0")
	}

	svc := newTestService(t, exchange, host, journal)
	require.NoError(t, svc.Run(context.Background(), 1), "a single failed timeframe does not fail the run")

	require.NotNil(t, host.published)

	// The failed timeframe republishes its previous file untouched.
	carried := parsePublished(t, host.published["eth_4h.csv"])
	require.Len(t, carried, 3)
	assert.Equal(t, "100.0", carried[2].Close)

	// The healthy ones grew.
	grown := parsePublished(t, host.published["eth_1h.csv"])
	assert.Len(t, grown, 4)

	var outcomes []domain.Outcome
	for _, res := range journal.results[1] {
		outcomes = append(outcomes, res.Outcome)
	}
	assert.Contains(t, outcomes, domain.OutcomeFailed)
	assert.Contains(t, outcomes, domain.OutcomeMerged)
	assert.Equal(t, domain.RunSucceeded, journal.runs[1].Status)
}

func TestRun_UploadRetries(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	exchange := &mockExchange{series: make(map[domain.Interval]domain.Series)}
	host := &mockHost{
		fixtures:   make(map[string]domain.Series),
		createErrs: []error{fmt.Errorf("flaky: %w", ports.ErrUploadFailed)},
	}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		exchange.series[interval] = seriesFor(interval, base, 2, "100.0")
	}

	svc := newTestService(t, exchange, host, journal)
	require.NoError(t, svc.Run(context.Background(), 1))
	assert.Equal(t, 2, host.createCall, "first upload fails, second succeeds")
}

func TestRunWithRetry_SucceedsOnSecondAttempt(t *testing.T) {
	base := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)

	exchange := &mockExchange{
		pingErrs: []error{fmt.Errorf("down: %w", ports.ErrConnectionFailed), nil},
		series:   make(map[domain.Interval]domain.Series),
	}
	host := &mockHost{}
	journal := newMockJournal()

	for _, interval := range domain.Intervals() {
		exchange.series[interval] = seriesFor(interval, base, 2, "100.0")
	}

	svc := newTestService(t, exchange, host, journal)
	require.NoError(t, svc.RunWithRetry(context.Background()))

	assert.Equal(t, 2, exchange.pingCall)
	assert.Equal(t, domain.RunFailed, journal.runs[1].Status)
	assert.Equal(t, domain.RunSucceeded, journal.runs[2].Status)
	assert.Equal(t, 2, journal.runs[2].Attempt)
}

func TestRunWithRetry_Exhausted(t *testing.T) {
	exchange := &mockExchange{
		pingErrs: []error{ports.ErrConnectionFailed, ports.ErrConnectionFailed, ports.ErrConnectionFailed},
	}
	svc := newTestService(t, exchange, &mockHost{}, newMockJournal())

	err := svc.RunWithRetry(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrUpdateFailed)
	assert.Equal(t, 3, exchange.pingCall)
}
