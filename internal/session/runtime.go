package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/quest"
)

// RuntimeConfig wires a Runtime. TickInterval and PollInterval default to
// one second and DefaultPollInterval.
type RuntimeConfig struct {
	Machine      *Machine
	Poller       *Poller
	Quests       *quest.Lifecycle
	TickInterval time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Runtime drives a Machine with a tick loop and a poll loop. The loops start
// with the session and stop when it is reset or the context ends; a poll in
// flight during a reset is discarded by its generation.
type Runtime struct {
	machine      *Machine
	poller       *Poller
	quests       *quest.Lifecycle
	tickInterval time.Duration
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRuntime returns a stopped Runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Runtime{
		machine:      cfg.Machine,
		poller:       cfg.Poller,
		quests:       cfg.Quests,
		tickInterval: tick,
		pollInterval: poll,
		logger:       cfg.Logger,
	}
}

// Machine returns the driven state machine.
func (r *Runtime) Machine() *Machine {
	return r.machine
}

// Start starts or resumes the session and launches the loops if they are
// not already running. The loops live until Reset, Close or ctx ends.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.machine.Start(); err != nil {
		return err
	}

	gen, ended := r.machine.Current()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group != nil {
		if r.gen == gen {
			return nil
		}
		// Loops of an earlier generation are exiting on their own.
		r.cancel()
		_ = r.group.Wait()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return r.tickLoop(gctx, gen, ended) })
	g.Go(func() error { return r.pollLoop(gctx, gen, ended) })
	r.gen = gen
	r.cancel = cancel
	r.group = g
	r.logger.Info("session: started", "generation", gen)
	return nil
}

// Pause pauses the timer. Polling continues so the pause policy keeps
// tracking the streaks.
func (r *Runtime) Pause() {
	r.machine.Pause()
}

// Reset zeroes the session and stops both loops.
func (r *Runtime) Reset() error {
	r.machine.Reset()
	return r.stop()
}

// Close stops the loops without resetting the counters.
func (r *Runtime) Close() error {
	return r.stop()
}

// Wait blocks until the loops exit.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	g := r.group
	r.mu.Unlock()
	if g == nil {
		return nil
	}
	return ignoreCanceled(g.Wait())
}

func (r *Runtime) stop() error {
	r.mu.Lock()
	cancel, g := r.cancel, r.group
	r.cancel, r.group = nil, nil
	r.mu.Unlock()

	if g == nil {
		return nil
	}
	cancel()
	return ignoreCanceled(g.Wait())
}

// GenerateQuests replaces the quest offer using this session as context
// and restarts the clean-focus clock.
func (r *Runtime) GenerateQuests(ctx context.Context) ([]model.Quest, error) {
	if r.quests == nil {
		return nil, fmt.Errorf("session: quests are not configured")
	}
	cands, err := r.quests.GenerateCandidates(ctx, r.machine.Summary())
	r.machine.ResetCleanFocus()
	return cands, err
}

// SelectQuest activates a candidate and restarts the clean-focus clock.
func (r *Runtime) SelectQuest(ctx context.Context, id string) (model.Quest, error) {
	return r.machine.SelectQuest(ctx, id)
}

func (r *Runtime) tickLoop(ctx context.Context, gen uint64, ended <-chan struct{}) error {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ended:
			return nil
		case <-ticker.C:
			r.machine.Tick(ctx, gen)
		}
	}
}

func (r *Runtime) pollLoop(ctx context.Context, gen uint64, ended <-chan struct{}) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		if st, ok := r.poller.Poll(ctx); ok && ctx.Err() == nil {
			// Discarded by the machine if a Reset happened meanwhile.
			r.machine.ApplyStatus(gen, st)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ended:
			return nil
		case <-ticker.C:
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
