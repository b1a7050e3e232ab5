package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
)

type memoryRecord struct {
	job           Job
	digest        string
	progress      *Progress
	result        *delivery.Envelope
	resultExpires time.Time
	recordExpires time.Time
}

// MemoryLedger keeps everything in process memory. It backs tests and single-process
// development runs.
type MemoryLedger struct {
	mu       sync.Mutex
	opts     Options
	now      func() time.Time
	jobs     map[string]*memoryRecord
	receipts map[string]string
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts Options) *MemoryLedger {
	return &MemoryLedger{
		opts:     opts.withDefaults(),
		now:      time.Now,
		jobs:     make(map[string]*memoryRecord),
		receipts: make(map[string]string),
	}
}

// lookup returns the live record for jobID, evicting it if its retention ran out.
// A sealed result past its retention is dropped together with the delivery secret.
func (m *MemoryLedger) lookup(jobID string) *memoryRecord {
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	now := m.now()
	if !rec.recordExpires.IsZero() && !now.Before(rec.recordExpires) {
		delete(m.jobs, jobID)
		if m.receipts[rec.job.ReceiptTx] == jobID {
			delete(m.receipts, rec.job.ReceiptTx)
		}
		return nil
	}
	if rec.result != nil && !now.Before(rec.resultExpires) {
		m.scrub(rec)
	}
	return rec
}

func (m *MemoryLedger) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := prepareCreate(job, m.now()); err != nil {
		return err
	}
	if m.lookup(job.ID) != nil {
		return ErrConflict
	}
	if job.ReceiptTx != "" {
		if _, used := m.receipts[job.ReceiptTx]; used {
			return ErrConflict
		}
		m.receipts[job.ReceiptTx] = job.ID
	}

	m.jobs[job.ID] = &memoryRecord{job: *job}
	return nil
}

func (m *MemoryLedger) Get(_ context.Context, jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.lookup(jobID)
	if rec == nil {
		return nil, ErrNotFound
	}
	job := rec.job
	return &job, nil
}

func (m *MemoryLedger) SetProgress(_ context.Context, jobID string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.lookup(jobID)
	if rec == nil {
		return ErrNotFound
	}
	if rec.job.Status != StatusPaid {
		return nil
	}
	rec.progress = &p
	return nil
}

func (m *MemoryLedger) GetProgress(_ context.Context, jobID string) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.lookup(jobID)
	if rec == nil || rec.progress == nil {
		return &Progress{}, nil
	}
	p := *rec.progress
	return &p, nil
}

func (m *MemoryLedger) Complete(_ context.Context, jobID string, env *delivery.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.paidRecord(jobID)
	if err != nil {
		return err
	}

	now := m.now()
	sealed := *env
	rec.job.Status = StatusComplete
	rec.result = &sealed
	rec.resultExpires = now.Add(m.opts.ResultTTL)
	rec.progress = nil
	if m.opts.RecordTTL > 0 {
		rec.recordExpires = now.Add(m.opts.RecordTTL)
	}
	return nil
}

func (m *MemoryLedger) Fail(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.paidRecord(jobID)
	if err != nil {
		return err
	}
	rec.job.Status = StatusFailed
	rec.progress = nil
	if m.opts.RecordTTL > 0 {
		rec.recordExpires = m.now().Add(m.opts.RecordTTL)
	}
	return nil
}

func (m *MemoryLedger) paidRecord(jobID string) (*memoryRecord, error) {
	rec := m.lookup(jobID)
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.job.Status != StatusPaid {
		return nil, ErrInvalidTransition
	}
	return rec, nil
}

func (m *MemoryLedger) Redeem(_ context.Context, jobID, token string) (*Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := redeemState{}
	rec := m.lookup(jobID)
	if rec != nil {
		st = redeemState{
			found:  true,
			status: rec.job.Status,
			secret: rec.job.DeliverySecret,
			digest: rec.digest,
			live:   rec.result != nil && m.now().Before(rec.resultExpires),
		}
	}

	action, err := decideRedeem(st, token)
	switch action {
	case redeemScrub:
		m.scrub(rec)
		return nil, err
	case redeemDeliver:
		out := &Redemption{Envelope: rec.result, ReceiptTx: rec.job.ReceiptTx}
		m.scrub(rec)
		return out, nil
	}
	return nil, err
}

func (m *MemoryLedger) scrub(rec *memoryRecord) {
	rec.digest = tokenDigest(rec.job.DeliverySecret)
	rec.job.DeliverySecret = ""
	rec.result = nil
	rec.resultExpires = time.Time{}
}

func (m *MemoryLedger) List(_ context.Context, filter JobFilter) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]Job, 0, len(m.jobs))
	for id := range m.jobs {
		rec := m.lookup(id)
		if rec == nil {
			continue
		}
		if filter.Status != "" && rec.job.Status != filter.Status {
			continue
		}
		if !filter.Cursor.after(&rec.job) {
			continue
		}
		job := rec.job
		job.DeliverySecret = ""
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if n := filter.limit() + 1; len(jobs) > n {
		jobs = jobs[:n]
	}
	return jobs, nil
}
