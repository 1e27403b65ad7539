package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"adaptive-training/internal/logger"
)

// Batch fans work out across athletes. One athlete failing never stops the
// others.
type Batch struct {
	Concurrency int
	Log         logger.Logger
}

// BatchResult contains the outcome of a batch run
type BatchResult struct {
	Athletes  int              `json:"athletes"`
	Succeeded int              `json:"succeeded"`
	Failed    map[string]error `json:"-"`
}

// ForEachAthlete runs fn for every athlete with at most Concurrency in flight
func (b Batch) ForEachAthlete(ctx context.Context, athletes []string, fn func(ctx context.Context, athleteID string) error) *BatchResult {
	log := b.Log
	if log == nil {
		log = logger.Nop()
	}

	result := &BatchResult{Athletes: len(athletes), Failed: make(map[string]error)}
	var mu sync.Mutex

	var g errgroup.Group
	if b.Concurrency > 0 {
		g.SetLimit(b.Concurrency)
	}

	for _, id := range athletes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				result.Failed[id] = err
				mu.Unlock()
				return nil
			}

			err := safeCall(ctx, id, fn)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error(ctx, "athlete run failed", logger.Athlete(id), logger.Err(err))
				result.Failed[id] = err
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// safeCall turns a panic in one athlete's run into that athlete's error
func safeCall(ctx context.Context, id string, fn func(ctx context.Context, athleteID string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, id)
}
