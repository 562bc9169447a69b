package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ratedesk/internal/blob"
	"ratedesk/internal/core"
	"ratedesk/pkg/domain"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportRecord tracks one archive request.
type ExportRecord struct {
	ID          string             `json:"id"`
	Variant     domain.VariantName `json:"variant"`
	ViewID      string             `json:"view_id"`
	Rows        int                `json:"rows"`
	Status      ExportStatus       `json:"status"`
	Error       string             `json:"error,omitempty"`
	Artifact    *blob.Info         `json:"artifact,omitempty"`
	RequestedBy string             `json:"requested_by"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func (r ExportRecord) copy() ExportRecord {
	out := r
	if r.Artifact != nil {
		artifact := *r.Artifact
		out.Artifact = &artifact
	}
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// ExportInput is a view snapshot to archive.
type ExportInput struct {
	Variant     domain.Variant
	ViewID      string
	Records     []domain.Record
	RequestedBy string
}

// ExportScheduler queues archive requests and exposes their status.
type ExportScheduler interface {
	EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

var _ ExportScheduler = (*Worker)(nil)

type exportTask struct {
	id    string
	input ExportInput
}

// Worker archives view snapshots to the blob store in the background.
type Worker struct {
	store  blob.Store
	logger core.Logger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker writing to store.
func NewWorker(store blob.Store, logger core.Logger) *Worker {
	if logger == nil {
		logger = core.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:  store,
		logger: logger,
		queue:  make(chan exportTask, 32),
		jobs:   make(map[string]*ExportRecord),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion. Jobs still
// queued are marked failed.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		w.drain()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

func (w *Worker) drain() {
	for {
		select {
		case task := <-w.queue:
			w.logger.Warn("export dropped", "export", task.id, "reason", errWorkerStopped.Error())
			w.update(task.id, func(r *ExportRecord) {
				r.Status = ExportStatusFailed
				r.Error = errWorkerStopped.Error()
			})
		default:
			return
		}
	}
}

var errWorkerStopped = errors.New("worker stopped")

// EnqueueExport schedules an archive job and returns the queued record.
func (w *Worker) EnqueueExport(_ context.Context, input ExportInput) (ExportRecord, error) {
	if w.store == nil {
		return ExportRecord{}, fmt.Errorf("export store not configured")
	}
	if w.ctx.Err() != nil {
		return ExportRecord{}, fmt.Errorf("enqueue export: %w", errWorkerStopped)
	}
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          uuid.NewString(),
		Variant:     input.Variant.Name,
		ViewID:      input.ViewID,
		Rows:        len(input.Records),
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[record.ID] = &record
	queued := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- exportTask{id: record.ID, input: input}:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return ExportRecord{}, fmt.Errorf("export queue full")
	}
	w.logger.Info("export queued", "export", record.ID, "variant", record.Variant, "rows", record.Rows)
	return queued, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	w.update(task.id, func(r *ExportRecord) { r.Status = ExportStatusRunning })
	in := task.input
	info, err := core.ArchiveCSV(w.ctx, w.store, in.Variant, task.id, in.ViewID, in.Records, time.Now().UTC())
	if err != nil {
		w.logger.Error("export failed", "export", task.id, "error", err)
		w.update(task.id, func(r *ExportRecord) {
			r.Status = ExportStatusFailed
			r.Error = err.Error()
		})
		return
	}
	w.logger.Info("export stored", "export", task.id, "key", info.Key, "size", info.Size)
	w.update(task.id, func(r *ExportRecord) {
		r.Status = ExportStatusSucceeded
		r.Artifact = &info
	})
}

func (w *Worker) update(id string, mutate func(*ExportRecord)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[id]
	if !ok {
		return
	}
	mutate(record)
	now := time.Now().UTC()
	record.UpdatedAt = now
	if record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed {
		record.CompletedAt = &now
	}
}
