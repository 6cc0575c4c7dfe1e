package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IshaanNene/crawlmaster/internal/types"
)

// Job is one crawl run. The registry owns it; a Runner is its only writer
// while running. Readers use Snapshot.
type Job struct {
	id        string
	name      string
	seedURL   string
	selectors types.SelectorMap
	createdAt time.Time
	logger    *slog.Logger

	mu           sync.RWMutex
	status       Status
	progress     int
	collected    int
	plannedTotal int
	errorCount   int
	records      []*types.Record
	logs         []string
	startedAt    time.Time
	completedAt  time.Time
	resultFile   string
	errMsg       string
}

// NewJob creates a pending job. It returns a *types.ConfigError when the
// seed URL is malformed or the selector map is unusable.
func NewJob(id, name, seedURL string, selectors types.SelectorMap, logger *slog.Logger) (*Job, error) {
	if _, err := types.NewRequest(seedURL); err != nil {
		return nil, &types.ConfigError{Field: "url", Reason: "seed URL must be an absolute http(s) URL", Err: err}
	}
	if err := selectors.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = id
	}
	return &Job{
		id:        id,
		name:      name,
		seedURL:   seedURL,
		selectors: selectors.Clone(),
		createdAt: time.Now(),
		status:    StatusPending,
		logger:    logger.With("job_id", id),
	}, nil
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Name returns the human name.
func (j *Job) Name() string { return j.name }

// SeedURL returns the URL the crawl starts from.
func (j *Job) SeedURL() string { return j.seedURL }

// Selectors returns a copy of the job's selector map.
func (j *Job) Selectors() types.SelectorMap { return j.selectors.Clone() }

// CreatedAt returns the creation time.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Snapshot is a point-in-time copy of a job, safe to hold and serialize.
type Snapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Selectors    types.SelectorMap `json:"selectors"`
	Status       Status            `json:"status"`
	Progress     int               `json:"progress"`
	Collected    int               `json:"collected"`
	PlannedTotal int               `json:"planned_total"`
	ErrorCount   int               `json:"error_count"`
	Data         []*types.Record   `json:"data,omitempty"`
	Logs         []string          `json:"logs"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	ResultFile   string            `json:"result_file,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Snapshot returns a deep copy of the job including its records.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := j.summaryLocked()
	s.Data = make([]*types.Record, len(j.records))
	for i, r := range j.records {
		s.Data[i] = r.Clone()
	}
	return s
}

// Summary is Snapshot without records.
func (j *Job) Summary() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.summaryLocked()
}

func (j *Job) summaryLocked() Snapshot {
	s := Snapshot{
		ID:           j.id,
		Name:         j.name,
		URL:          j.seedURL,
		Selectors:    j.selectors.Clone(),
		Status:       j.status,
		Progress:     j.progress,
		Collected:    j.collected,
		PlannedTotal: j.plannedTotal,
		ErrorCount:   j.errorCount,
		Logs:         append([]string{}, j.logs...),
		CreatedAt:    j.createdAt,
		ResultFile:   j.resultFile,
		Error:        j.errMsg,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.completedAt.IsZero() {
		t := j.completedAt
		s.CompletedAt = &t
	}
	return s
}

// Records returns copies of the collected records in collection order.
func (j *Job) Records() []*types.Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]*types.Record, len(j.records))
	for i, r := range j.records {
		out[i] = r.Clone()
	}
	return out
}

// The methods below are the runner's write path. Each is a no-op once the
// job is terminal.

func (j *Job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	j.status = StatusRunning
	j.startedAt = time.Now()
	return true
}

func (j *Job) addRecord(rec *types.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return
	}
	j.records = append(j.records, rec)
	j.collected++
}

func (j *Job) setPlanned(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.plannedTotal = n
	}
}

// setProgress only moves forward and stays below 100 until completion.
func (j *Job) setProgress(p int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusRunning {
		return
	}
	p = min(p, 99)
	if p > j.progress {
		j.progress = p
	}
}

func (j *Job) addError() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == StatusRunning {
		j.errorCount++
	}
}

// finish moves the job to a terminal state. resultFile is only recorded for
// completed jobs.
func (j *Job) finish(status Status, resultFile, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	j.status = status
	j.completedAt = time.Now()
	j.errMsg = errMsg
	if status == StatusCompleted {
		j.progress = 100
		j.resultFile = resultFile
	}
	return true
}

// logf appends a timestamped line to the job log and mirrors it to slog.
// Terminal jobs only get the slog line.
func (j *Job) logf(level slog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	now := time.Now()

	j.mu.Lock()
	if !j.status.IsTerminal() {
		j.logs = append(j.logs, fmt.Sprintf("[%s] %s", now.Format("15:04:05"), msg))
	}
	j.mu.Unlock()

	j.logger.Log(context.Background(), level, msg, "job_name", j.name)
}
