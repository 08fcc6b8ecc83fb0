package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// KeyError is the failure of one unit of parallel work.
type KeyError[K any] struct {
	Key K
	Err error
}

func (e *KeyError[K]) Error() string { return fmt.Sprintf("%v: %v", e.Key, e.Err) }

func (e *KeyError[K]) Unwrap() error { return e.Err }

// forEach runs fn for every key on at most workers goroutines. A failing key
// does not stop the others; every failure is logged and the joined failures
// are returned once all keys are done.
func forEach[K any](ctx context.Context, workers int, keys []K, logger *slog.Logger, fn func(context.Context, K) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(max(1, workers))
	for _, k := range keys {
		g.Go(func() error {
			if err := fn(ctx, k); err != nil {
				logger.Error("worker failed", "key", k, "error", err)
				mu.Lock()
				errs = append(errs, &KeyError[K]{Key: k, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
