package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cramsino/cramsino/internal/economy"
	"github.com/cramsino/cramsino/internal/kv"
	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/quest"
	"github.com/cramsino/cramsino/sdk/go/relay"
)

// scriptedSource answers every query with the current status, or an error.
type scriptedSource struct {
	mu     sync.Mutex
	status relay.Status
	err    error
	calls  atomic.Int32
}

func (s *scriptedSource) set(st relay.Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = st, err
}

func (s *scriptedSource) Status(_ context.Context, clientID string) (*relay.StatusRecord, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &relay.StatusRecord{ClientID: clientID, Status: s.status, UpdatedAt: time.Now()}, nil
}

func newRuntime(t *testing.T, src StatusSource, wallet Wallet) *Runtime {
	t.Helper()
	m := NewMachine(MachineConfig{Wallet: wallet, Logger: quietLogger()})
	rt := NewRuntime(RuntimeConfig{
		Machine:      m,
		Poller:       NewPoller(src, "desk-1", 100*time.Millisecond, quietLogger()),
		TickInterval: 5 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       quietLogger(),
	})
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimeAutoPausesFromPolls(t *testing.T) {
	src := &scriptedSource{}
	src.set(relay.Status{Distracted: true}, nil)
	rt := newRuntime(t, src, nil)

	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, func() bool {
		return rt.Machine().Snapshot().State == StateAutoPaused
	}, 2*time.Second, 5*time.Millisecond)

	src.set(relay.Status{FacePresent: true}, nil)
	require.Eventually(t, func() bool {
		return rt.Machine().Snapshot().State == StateRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRuntimeTicksAndPaysCoins(t *testing.T) {
	src := &scriptedSource{}
	w := &fakeWallet{}
	rt := newRuntime(t, src, w)

	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, func() bool { return w.total() >= 1000 }, 2*time.Second, 5*time.Millisecond)

	snap := rt.Machine().Snapshot()
	assert.GreaterOrEqual(t, snap.ElapsedSeconds, 10)
	assert.LessOrEqual(t, snap.CleanFocusSeconds, snap.ElapsedSeconds)
}

func TestRuntimePollFailureIsNoInformation(t *testing.T) {
	src := &scriptedSource{}
	src.set(relay.Status{Talking: true}, nil)
	rt := newRuntime(t, src, nil)
	require.NoError(t, rt.Start(context.Background()))

	require.Eventually(t, func() bool {
		return rt.Machine().Snapshot().TalkingStreakSeconds >= 2
	}, 2*time.Second, 5*time.Millisecond)

	src.set(relay.Status{}, errors.New("connection refused"))
	before := src.calls.Load()
	require.Eventually(t, func() bool { return src.calls.Load() > before+3 }, 2*time.Second, 5*time.Millisecond)

	snap := rt.Machine().Snapshot()
	require.NotNil(t, snap.LastStatus)
	assert.True(t, snap.LastStatus.Talking, "failed polls keep the last known status")
	assert.GreaterOrEqual(t, snap.TalkingStreakSeconds, 2, "failed polls neither reset nor advance streaks")
}

// blockingSource holds the first query until released.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSource) Status(_ context.Context, clientID string) (*relay.StatusRecord, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.started)
		<-s.release
	}
	return &relay.StatusRecord{ClientID: clientID, Status: relay.Status{Distracted: true}}, nil
}

func TestRuntimeDiscardsPollAfterReset(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	m := NewMachine(MachineConfig{Logger: quietLogger()})
	rt := NewRuntime(RuntimeConfig{
		Machine:      m,
		Poller:       NewPoller(src, "desk-1", 5*time.Second, quietLogger()),
		TickInterval: time.Hour,
		PollInterval: time.Hour,
		Logger:       quietLogger(),
	})

	require.NoError(t, rt.Start(context.Background()))
	<-src.started

	// Reset the machine behind the runtime's back while the poll is in flight.
	m.Reset()
	require.NoError(t, m.Start())
	close(src.release)

	done := make(chan error, 1)
	go func() { done <- rt.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loops of the old generation did not stop")
	}

	snap := m.Snapshot()
	assert.Zero(t, snap.DistractedStreakSeconds, "stale poll must not touch the new session")
	assert.Nil(t, snap.LastStatus)
}

func TestRuntimeResetStopsLoops(t *testing.T) {
	src := &scriptedSource{}
	rt := newRuntime(t, src, nil)
	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, func() bool { return src.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Reset())
	calls := src.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load(), "no polls after reset")
	assert.Equal(t, StateReady, rt.Machine().Snapshot().State)

	require.NoError(t, rt.Start(context.Background()))
	require.Eventually(t, func() bool { return src.calls.Load() > calls }, 2*time.Second, 5*time.Millisecond)
}

func TestRuntimeStopsWithContext(t *testing.T) {
	rt := newRuntime(t, &scriptedSource{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rt.Start(ctx))
	cancel()
	assert.NoError(t, rt.Wait())
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, model.QuestRequest) model.Quest {
	return model.Quest{ID: "gen", Title: "Generated", RewardGold: 10, TargetMinutes: 1}
}

func TestRuntimeQuestSelectionRestartsCleanFocus(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	ledger, err := economy.Load(ctx, store, quietLogger())
	require.NoError(t, err)
	life, err := quest.Load(ctx, quest.Config{
		Store: store, Generator: stubGenerator{}, Rewarder: ledger, Logger: quietLogger(), Count: 1,
	})
	require.NoError(t, err)

	m := NewMachine(MachineConfig{Wallet: ledger, Quests: life, Logger: quietLogger()})
	rt := NewRuntime(RuntimeConfig{Machine: m, Quests: life, Logger: quietLogger()})
	require.NoError(t, m.Start())
	tickN(m, 8)

	cands, err := rt.GenerateQuests(ctx)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Zero(t, m.Snapshot().CleanFocusSeconds)

	tickN(m, 8)
	_, err = rt.SelectQuest(ctx, cands[1].ID)
	require.NoError(t, err)
	assert.Zero(t, m.Snapshot().CleanFocusSeconds)

	_, err = rt.SelectQuest(ctx, "missing")
	require.ErrorIs(t, err, quest.ErrUnknownCandidate)

	before := ledger.Coins()
	tickN(m, 11)
	_, phase, err := life.Active()
	require.NoError(t, err)
	assert.Equal(t, quest.PhaseCompletedRewarded, phase)
	assert.Equal(t, before+50+1000, ledger.Coins(), "quest gold plus the batches at 20s and 25s")
}

// gatedStore blocks saving an active quest record until open is closed.
type gatedStore struct {
	*kv.Memory
	entered chan struct{}
	open    chan struct{}
}

func (s *gatedStore) Set(ctx context.Context, key, value string) error {
	if key == quest.KeyActive && strings.Contains(value, `"phase":"active"`) {
		s.entered <- struct{}{}
		<-s.open
	}
	return s.Memory.Set(ctx, key, value)
}

func TestQuestSelectedMidTickStartsFromZero(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{Memory: kv.NewMemory(), entered: make(chan struct{}, 1), open: make(chan struct{})}
	ledger, err := economy.Load(ctx, store, quietLogger())
	require.NoError(t, err)
	life, err := quest.Load(ctx, quest.Config{
		Store: store, Generator: stubGenerator{}, Rewarder: ledger, Logger: quietLogger(), Count: 1,
	})
	require.NoError(t, err)

	m := NewMachine(MachineConfig{Wallet: ledger, Quests: life, Logger: quietLogger()})
	rt := NewRuntime(RuntimeConfig{Machine: m, Quests: life, Logger: quietLogger()})
	require.NoError(t, m.Start())
	cands, err := rt.GenerateQuests(ctx)
	require.NoError(t, err)
	tickN(m, 120)

	selected := make(chan error, 1)
	go func() {
		_, err := rt.SelectQuest(ctx, cands[0].ID)
		selected <- err
	}()
	<-store.entered

	gen := m.Generation()
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		m.Tick(ctx, gen)
	}()
	require.Eventually(t, func() bool { return m.Snapshot().ElapsedSeconds == 121 }, 2*time.Second, 5*time.Millisecond)

	close(store.open)
	require.NoError(t, <-selected)
	<-ticked

	_, phase, err := life.Active()
	require.NoError(t, err)
	assert.Equal(t, quest.PhaseActive, phase, "two minutes of earlier focus must not complete a 1-minute quest")
	assert.Zero(t, m.Snapshot().CleanFocusSeconds)
}
