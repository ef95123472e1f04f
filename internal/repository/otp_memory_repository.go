package repository

import (
	"context"
	"sync"
	"time"

	"github.com/qcom/otpguard/internal/clock"
	"github.com/qcom/otpguard/internal/models"
)

// MemoryOTPRepository is a process-local store for single-instance
// deployments and tests.
type MemoryOTPRepository struct {
	mu        sync.RWMutex
	records   map[string]models.OTPRecord
	retention time.Duration
	clock     clock.Clock
}

func NewMemoryOTPRepository(retention time.Duration, clk clock.Clock) *MemoryOTPRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryOTPRepository{
		records:   make(map[string]models.OTPRecord),
		retention: retention,
		clock:     clk,
	}
}

func (r *MemoryOTPRepository) Upsert(_ context.Context, record models.OTPRecord) error {
	r.mu.Lock()
	r.records[record.Identifier] = record
	r.mu.Unlock()
	return nil
}

func (r *MemoryOTPRepository) Get(_ context.Context, identifier string) (*models.OTPRecord, error) {
	r.mu.RLock()
	record, ok := r.records[identifier]
	r.mu.RUnlock()

	if !ok || r.clock.Now().After(record.ExpiresAt.Add(r.retention)) {
		return nil, ErrOTPNotFound
	}
	return &record, nil
}

// Cleanup removes records whose retention has passed.
func (r *MemoryOTPRepository) Cleanup() {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, record := range r.records {
		if now.After(record.ExpiresAt.Add(r.retention)) {
			delete(r.records, k)
		}
	}
}

func (r *MemoryOTPRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// StartJanitor runs Cleanup every interval until ctx is done.
func (r *MemoryOTPRepository) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.Cleanup()
			}
		}
	}()
}
