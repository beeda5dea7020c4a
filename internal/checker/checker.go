// Package checker measures descriptor reachability and keeps results in
// storage. Batch checks fan out over a bounded worker pool.
package checker

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"foxden/internal/storage"
	"foxden/internal/storage/models"
)

// Strategy defines how a reachability check is performed.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string
	// Check probes the descriptor and returns the round-trip time.
	Check(ctx context.Context, d *models.Descriptor) (latencyMS int64, err error)
}

// TCPStrategy measures latency with a TCP handshake against the
// descriptor endpoint. Fast and protocol-agnostic; it verifies
// reachability, not proxy correctness.
type TCPStrategy struct {
	// Dial overrides the dialer, for tests.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Check(ctx context.Context, d *models.Descriptor) (int64, error) {
	dial := s.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	start := time.Now()
	conn, err := dial(ctx, "tcp", d.Endpoint())
	if err != nil {
		return 0, fmt.Errorf("tcp handshake failed: %w", err)
	}
	elapsed := time.Since(start)
	conn.Close()

	return elapsed.Milliseconds(), nil
}

// Result holds the outcome for a single descriptor check.
type Result struct {
	Descriptor *models.Descriptor
	Check      *models.CheckResult
}

// BatchResult holds the outcome of checking multiple descriptors.
type BatchResult struct {
	Results   []*Result
	Checked   int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ProgressFunc is called each time a single check completes during a
// batch run.
type ProgressFunc func(result *Result, current, total int)

// Config holds configuration for the Checker.
type Config struct {
	Workers  int64
	Timeout  time.Duration
	Strategy Strategy
}

// Checker runs reachability checks and records them.
type Checker struct {
	storage storage.Storage
	config  Config
}

// New creates a Checker.
func New(store storage.Storage, cfg Config) *Checker {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Strategy == nil {
		cfg.Strategy = &TCPStrategy{}
	}
	return &Checker{
		storage: store,
		config:  cfg,
	}
}

// CheckOne probes a single descriptor and records the result.
func (c *Checker) CheckOne(ctx context.Context, d *models.Descriptor) *Result {
	checkCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	latencyMS, err := c.config.Strategy.Check(checkCtx, d)

	check := &models.CheckResult{
		DescriptorID: d.ID,
		Strategy:     c.config.Strategy.Name(),
		CheckedAt:    time.Now().UTC(),
	}
	if err != nil {
		check.Success = false
		check.ErrorMessage = err.Error()
	} else {
		check.Success = true
		check.LatencyMS = &latencyMS
	}

	d.Status = models.StatusFromResult(check.Success)
	d.LatencyMS = check.LatencyMS
	d.CheckedAt = &check.CheckedAt

	// best-effort, checks are still useful without a database
	if c.storage != nil {
		c.storage.RecordCheck(ctx, check)
	}

	return &Result{Descriptor: d, Check: check}
}

// CheckBatch probes descriptors concurrently using a semaphore-bounded
// worker pool. Successful results sort first, by latency ascending.
func (c *Checker) CheckBatch(ctx context.Context, descriptors []*models.Descriptor, progress ProgressFunc) *BatchResult {
	startTime := time.Now()

	batch := &BatchResult{}
	results := make([]*Result, len(descriptors))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(c.config.Workers)
	var wg sync.WaitGroup

	for i, d := range descriptors {
		wg.Add(1)
		go func(idx int, d *models.Descriptor) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			result := c.CheckOne(ctx, d)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			if result.Check.Success {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(descriptors))
			}
		}(i, d)
	}

	wg.Wait()

	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, r)
			batch.Checked++
		}
	}

	sort.Slice(batch.Results, func(i, j int) bool {
		ri, rj := batch.Results[i].Check, batch.Results[j].Check
		if ri.Success != rj.Success {
			return ri.Success
		}
		if ri.Success {
			return *ri.LatencyMS < *rj.LatencyMS
		}
		return false
	})

	batch.Duration = time.Since(startTime)
	return batch
}
