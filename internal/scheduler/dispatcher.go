package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	config "github.com/postpilothq/postpilot/configs"
	"github.com/postpilothq/postpilot/internal/repository"
	"github.com/postpilothq/postpilot/internal/service"
)

// Dispatcher periodically picks up due scheduled posts and hands them
// to the publication pipeline. It is the authoritative execution path:
// the delayed task queue usually fires first, but any post the queue
// misses (worker down, enqueue failure, crash) is caught here on the
// next tick. Claiming is atomic, so both paths can race safely.
type Dispatcher struct {
	cfg config.Config
	pr  repository.ScheduledPostRepository
	ps  service.PublishService

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewDispatcher(cfg config.Config, pr repository.ScheduledPostRepository, ps service.PublishService) *Dispatcher {
	return &Dispatcher{
		cfg: cfg,
		pr:  pr,
		ps:  ps,
	}
}

// Start launches the polling loop. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go d.run(d.stop, d.done)
}

// Stop halts the loop and waits for an in-flight pass to finish.
// Calling Stop on a stopped dispatcher is a no-op.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
}

func (d *Dispatcher) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.Scheduler.TickInterval)
	defer ticker.Stop()

	// First pass fires immediately so a restart does not wait a full
	// interval before resuming delivery.
	d.tick()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Dispatcher) tick() {
	ctx := context.Background()

	d.recoverStale(ctx)

	posts, err := d.pr.ListDue(ctx, time.Now(), d.cfg.Scheduler.BatchSize)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	for _, post := range posts {
		if err := d.ps.PublishPost(ctx, post.ID); err != nil {
			slog.Info(fmt.Sprintf("dispatch of post %d: %v", post.ID, err))
		}
	}
}

// recoverStale returns posts stuck in processing (a crash mid-publish)
// to the scheduled state so a later tick retries them.
func (d *Dispatcher) recoverStale(ctx context.Context) {
	olderThan := time.Now().Add(-d.cfg.Scheduler.StaleAfter)
	n, err := d.pr.ResetStaleProcessing(ctx, olderThan)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if n > 0 {
		slog.Info(fmt.Sprintf("recovered %d stale processing posts", n))
	}
}
