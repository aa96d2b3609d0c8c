package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"turnover/internal/report"
	"turnover/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ctx() context.Context {
	return context.Background()
}

var kst = time.FixedZone("KST", 9*60*60)

// ============================================================
// Mock: RoomSource
// ============================================================

type mockRoomSource struct {
	mu    sync.Mutex
	rooms []types.Room
	stats types.RoomLoadStats
	err   error
	asOf  []time.Time
}

func (m *mockRoomSource) ListRooms(_ context.Context, asOf time.Time) ([]types.Room, types.RoomLoadStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asOf = append(m.asOf, asOf)
	if m.err != nil {
		return nil, types.RoomLoadStats{}, m.err
	}
	return m.rooms, m.stats, nil
}

// ============================================================
// Mock: ParameterStore + TuningLog
// ============================================================

type mockParamStore struct {
	mu      sync.Mutex
	params  types.ModelParameters
	missing []string
	loadErr error
	saveErr error
	saved   []types.ModelParameters
}

func (m *mockParamStore) Load(_ context.Context) (types.ModelParameters, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return types.ModelParameters{}, nil, m.loadErr
	}
	return m.params, m.missing, nil
}

func (m *mockParamStore) Save(_ context.Context, p types.ModelParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, p)
	m.params = p
	return nil
}

type insertedRecords struct {
	records []types.TuningRecord
	applied bool
}

type mockTuningLog struct {
	mu       sync.Mutex
	err      error
	inserted []insertedRecords
}

func (m *mockTuningLog) Insert(_ context.Context, records []types.TuningRecord, applied bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, insertedRecords{records: records, applied: applied})
	return nil
}

// ============================================================
// Mock: PredictionStore + AccuracyStore
// ============================================================

type mockPredictionStore struct {
	mu        sync.Mutex
	byTarget  []types.Prediction
	realized  map[types.Bucket][]types.Prediction
	listErr   error
	insertErr error

	inserted       []types.Prediction
	outcomes       []types.Prediction
	realizedRanges [][2]time.Time
}

func (m *mockPredictionStore) InsertRun(_ context.Context, preds []types.Prediction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.inserted = append(m.inserted, preds...)
	return int64(len(preds)), nil
}

func (m *mockPredictionStore) ListByTargetDate(_ context.Context, _ time.Time) ([]types.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.byTarget, nil
}

func (m *mockPredictionStore) UpdateOutcomes(_ context.Context, preds []types.Prediction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(0)
	for _, p := range preds {
		if p.Realized() {
			m.outcomes = append(m.outcomes, p)
			n++
		}
	}
	return n, nil
}

func (m *mockPredictionStore) ListRealized(_ context.Context, bucket types.Bucket, from, to time.Time) ([]types.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.realizedRanges = append(m.realizedRanges, [2]time.Time{from, to})
	return m.realized[bucket], nil
}

type mockAccuracyStore struct {
	mu       sync.Mutex
	replaced map[time.Time][]types.AccuracyMetrics
}

func (m *mockAccuracyStore) ReplaceForDate(_ context.Context, date time.Time, metrics []types.AccuracyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaced == nil {
		m.replaced = make(map[time.Time][]types.AccuracyMetrics)
	}
	m.replaced[date] = metrics
	return nil
}

// ============================================================
// Mock: ReportPublisher
// ============================================================

type mockPublisher struct {
	mu     sync.Mutex
	runs   []report.Run
	result report.Result
}

func (m *mockPublisher) Publish(_ context.Context, run report.Run) report.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return m.result
}

// ============================================================
// Mock: JobLocker + JobHistorian
// ============================================================

// mockJobLock grants a lock when acquired is set and no one holds the id yet.
type mockJobLock struct {
	mu       sync.Mutex
	acquired bool
	err      error
	held     map[string]bool
	lockIDs  []string
	released []string
}

func (m *mockJobLock) Acquire(_ context.Context, lockID, _ string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockIDs = append(m.lockIDs, lockID)
	if m.err != nil {
		return false, m.err
	}
	if !m.acquired || m.held[lockID] {
		return false, nil
	}
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	m.held[lockID] = true
	return true, nil
}

func (m *mockJobLock) Release(_ context.Context, lockID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, lockID)
	delete(m.held, lockID)
	return nil
}

type finishedJob struct {
	id     int64
	status string
	items  int
	err    error
}

type mockJobHistory struct {
	mu       sync.Mutex
	startErr error
	started  []string
	finished []finishedJob
}

func (m *mockJobHistory) Start(_ context.Context, jobType string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return 0, m.startErr
	}
	m.started = append(m.started, jobType)
	return int64(len(m.started)), nil
}

func (m *mockJobHistory) Finish(_ context.Context, id int64, status string, items int, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, finishedJob{id: id, status: status, items: items, err: err})
	return nil
}
