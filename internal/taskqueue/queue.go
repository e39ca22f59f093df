// Package taskqueue implements the Lifecycle & Task Queue (spec §4.7):
// a priority load-task queue plus the tile lifecycle operations
// (getTile, dirty-marking, pending-dispose draining) that sit on top of
// it. It satisfies election.Resolver and election.DisposeDrainer so the
// election pipeline never imports this package directly.
package taskqueue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tilesetcore/visibletiles/internal/coretypes"
	"github.com/tilesetcore/visibletiles/internal/morton"
)

// Group tags a load task's kind. The core schedules only one kind today,
// but the field is carried through so a renderer-side queue can branch
// on it without the core needing to know what the branches are.
type Group string

// GroupFetchAndDecode is the only group the core ever submits (spec
// §4.7: "group = FETCH_AND_DECODE").
const GroupFetchAndDecode Group = "FETCH_AND_DECODE"

type loadTask struct {
	tile  coretypes.Tile
	group Group
}

// priority is read at dispatch time, not at submission (spec §4.7:
// "evaluated at dispatch, not at submission") — a tile's loader priority
// can change while the task sits in the queue (e.g. it leaves the
// frustum and its computed priority drops), and the dispatcher must pick
// among currently-pending tasks using their latest value.
func (t *loadTask) priority() float64 {
	if loader := t.tile.Loader(); loader != nil {
		return loader.Priority()
	}
	return 0
}

// expired reports whether the queue should drop this task unexecuted
// (spec §4.7: "isExpired() = !tile.isVisible").
func (t *loadTask) expired() bool { return !t.tile.IsVisible() }

// Queue is a priority task queue. At most one task is pending per tile
// (spec §4.7: "At most one concurrent load task per cache entry").
type Queue struct {
	mu      sync.Mutex
	pending map[morton.CompositeID]*loadTask
	wake    chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[morton.CompositeID]*loadTask),
		wake:    make(chan struct{}, 1),
	}
}

// Submit schedules tile.Load to run, deduplicating against any task
// already pending for the same tile (identified by UniqueKey).
func (q *Queue) Submit(tile coretypes.Tile) {
	key := tile.UniqueKey()

	q.mu.Lock()
	if _, exists := q.pending[key]; exists {
		q.mu.Unlock()
		return
	}
	q.pending[key] = &loadTask{tile: tile, group: GroupFetchAndDecode}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks currently pending dispatch.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// takeNext removes and returns the highest-priority non-expired pending
// task, dropping any expired ones it encounters along the way.
func (q *Queue) takeNext() (*loadTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var bestKey morton.CompositeID
	var best *loadTask
	for key, task := range q.pending {
		if task.expired() {
			delete(q.pending, key)
			continue
		}
		if best == nil || task.priority() > best.priority() {
			best, bestKey = task, key
		}
	}
	if best == nil {
		return nil, false
	}
	delete(q.pending, bestKey)
	return best, true
}

// Run dispatches pending tasks to concurrency workers until ctx is
// cancelled, using golang.org/x/sync/errgroup the way the teacher's
// internal/tile/generator.go runs its worker pool (there with a
// hand-rolled jobs channel + WaitGroup; here with errgroup.WithContext,
// the idiomatic replacement per SPEC_FULL.md §11).
func (q *Queue) Run(ctx context.Context, concurrency int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				task, ok := q.takeNext()
				if !ok {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-q.wake:
						continue
					}
				}
				// LoadFailure surfaces only as the tile never becoming
				// allGeometryLoaded (spec §7); the core does not retry.
				_ = task.tile.Load(ctx)

				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		})
	}
	return g.Wait()
}
