package quest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cramsino/cramsino/internal/economy"
	"github.com/cramsino/cramsino/internal/kv"
	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/quest"
	"github.com/cramsino/cramsino/internal/testutil"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls []model.QuestRequest
	next  []model.Quest
}

func (g *stubGenerator) Generate(_ context.Context, req model.QuestRequest) model.Quest {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	q := g.next[0]
	g.next = g.next[1:]
	return q
}

type fixture struct {
	store  *kv.Memory
	ledger *economy.Ledger
	gen    *stubGenerator
	life   *quest.Lifecycle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: kv.NewMemory(), gen: &stubGenerator{}}
	f.reload(t)
	return f
}

func (f *fixture) reload(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	var err error
	f.ledger, err = economy.Load(ctx, f.store, testutil.TestLogger())
	require.NoError(t, err)
	f.life, err = quest.Load(ctx, quest.Config{
		Store:     f.store,
		Generator: f.gen,
		Rewarder:  f.ledger,
		Logger:    testutil.TestLogger(),
		Count:     2,
	})
	require.NoError(t, err)
}

func (f *fixture) activate(t *testing.T, q model.Quest) {
	t.Helper()
	q.ID = "picked"
	f.gen.next = []model.Quest{q, {ID: "other", Title: "Other", TargetMinutes: 30}}
	cands, err := f.life.GenerateCandidates(context.Background(), quest.SessionSummary{})
	require.NoError(t, err)
	_, err = f.life.Select(context.Background(), cands[0].ID)
	require.NoError(t, err)
}

func TestGenerateCandidates(t *testing.T) {
	f := newFixture(t)
	f.gen.next = []model.Quest{
		{ID: "g1", Title: "Silence", Type: model.QuestNoTalking, TargetMinutes: 20},
		{ID: "g2", Title: "Untyped", Target: 12},
	}

	cands, err := f.life.GenerateCandidates(context.Background(), quest.SessionSummary{
		Duration: 25*time.Minute + 30*time.Second, DistractionCount: 2,
	})
	require.NoError(t, err)
	require.Len(t, cands, 3)

	assert.Equal(t, []model.QuestRequest{
		{Duration: 25, DistractionCount: 2},
		{Duration: 25, DistractionCount: 2},
	}, f.gen.calls, "generated sequentially with the same summary")

	assert.Equal(t, model.QuestNoTalking, cands[0].Type)
	assert.Equal(t, model.QuestNoDistractions, cands[1].Type, "empty type is normalised")
	assert.InDelta(t, 12, cands[1].TargetMinutes, 0, "target_minutes falls back to target")

	local := cands[2]
	assert.Equal(t, "Quick Focus Test", local.Title)
	assert.Equal(t, model.QuestMinDuration, local.Type)
	assert.InDelta(t, 50, local.RewardGold, 0)
	assert.InDelta(t, 20, local.RewardXP, 0)
	assert.InDelta(t, 0.1667, local.TargetMinutes, 0)

	assert.Equal(t, cands, f.life.Candidates())
}

func TestNormalize(t *testing.T) {
	q := quest.Normalize(model.Quest{})
	assert.InDelta(t, 5, q.TargetMinutes, 0)
	assert.Equal(t, model.QuestNoDistractions, q.Type)

	q = quest.Normalize(model.Quest{Target: 15, TargetMinutes: 0, Type: model.QuestMinDuration})
	assert.InDelta(t, 15, q.TargetMinutes, 0)
	assert.Equal(t, model.QuestMinDuration, q.Type)
}

func TestSelectUnknownCandidate(t *testing.T) {
	f := newFixture(t)
	_, err := f.life.Select(context.Background(), "nope")
	require.ErrorIs(t, err, quest.ErrUnknownCandidate)

	_, _, err = f.life.Active()
	require.ErrorIs(t, err, quest.ErrNoActiveQuest)
}

func TestGenerateClearsActiveQuest(t *testing.T) {
	f := newFixture(t)
	f.activate(t, model.Quest{Title: "First", TargetMinutes: 1})

	f.gen.next = []model.Quest{{Title: "A"}, {Title: "B"}}
	_, err := f.life.GenerateCandidates(context.Background(), quest.SessionSummary{})
	require.NoError(t, err)

	_, _, err = f.life.Active()
	require.ErrorIs(t, err, quest.ErrNoActiveQuest)
	_, err = f.store.Get(context.Background(), quest.KeyActive)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestEvaluateProgressRewardsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t, model.Quest{Title: "Sprint", RewardGold: 120, RewardXP: 250, Type: model.QuestNoDistractions, TargetMinutes: 1})

	out, err := f.life.EvaluateProgress(ctx, 59)
	require.NoError(t, err)
	assert.Equal(t, quest.PhaseActive, out.Phase)
	assert.False(t, out.Completed)

	out, err = f.life.EvaluateProgress(ctx, 60)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.True(t, out.Rewarded)
	assert.Equal(t, quest.PhaseCompletedRewarded, out.Phase)
	assert.Equal(t, 1, out.LevelsGained)

	for _, secs := range []int{61, 90, 600} {
		out, err = f.life.EvaluateProgress(ctx, secs)
		require.NoError(t, err)
		assert.False(t, out.Rewarded, "reward is granted only once")
	}

	snap := f.ledger.Snapshot()
	assert.Equal(t, economy.DefaultCoins+120, snap.Coins)
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, 150, snap.XP)
}

func TestQuickFocusTestNeedsElevenSeconds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gen.next = []model.Quest{{Title: "A"}, {Title: "B"}}
	cands, err := f.life.GenerateCandidates(ctx, quest.SessionSummary{})
	require.NoError(t, err)
	_, err = f.life.Select(ctx, cands[2].ID)
	require.NoError(t, err)

	out, err := f.life.EvaluateProgress(ctx, 10)
	require.NoError(t, err)
	assert.False(t, out.Completed, "0.1667 minutes is slightly over 10 seconds")

	out, err = f.life.EvaluateProgress(ctx, 11)
	require.NoError(t, err)
	assert.True(t, out.Rewarded)
}

func TestReloadNeverRegrantsReward(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t, model.Quest{Title: "Sprint", RewardGold: 100, RewardXP: 10, TargetMinutes: 1})
	_, err := f.life.EvaluateProgress(ctx, 60)
	require.NoError(t, err)
	coins := f.ledger.Coins()

	f.reload(t)
	q, phase, err := f.life.Active()
	require.NoError(t, err)
	assert.Equal(t, "Sprint", q.Title)
	assert.Equal(t, quest.PhaseCompletedRewarded, phase)

	out, err := f.life.EvaluateProgress(ctx, 1000)
	require.NoError(t, err)
	assert.False(t, out.Rewarded)
	assert.Equal(t, coins, f.ledger.Coins())
}

func TestLoadRecordWithoutPhase(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		raw   string
		phase quest.Phase
	}{
		{"completed flag only", `{"quest":{"id":"q","title":"Old","reward_gold":99,"target":3},"completed":true}`, quest.PhaseCompletedRewarded},
		{"in progress", `{"quest":{"id":"q","title":"Old","target_minutes":3},"completed":false}`, quest.PhaseActive},
		{"pending reward", `{"quest":{"id":"q","title":"Old","reward_gold":99,"target_minutes":3},"completed":true,"phase":"completed_unrewarded"}`, quest.PhaseCompletedUnrewarded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.Set(ctx, quest.KeyActive, tt.raw))
			f.reload(t)

			q, phase, err := f.life.Active()
			require.NoError(t, err)
			assert.Equal(t, tt.phase, phase)
			assert.InDelta(t, 3, q.TargetMinutes, 0)
		})
	}
}

func TestPendingRewardIsPaidOnNextEvaluation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, quest.KeyActive,
		`{"quest":{"id":"q","title":"Old","reward_gold":99,"target_minutes":3},"completed":true,"phase":"completed_unrewarded"}`))
	f.reload(t)
	before := f.ledger.Coins()

	out, err := f.life.EvaluateProgress(ctx, 0)
	require.NoError(t, err)
	assert.True(t, out.Rewarded)
	assert.Equal(t, before+99, f.ledger.Coins())

	out, err = f.life.EvaluateProgress(ctx, 0)
	require.NoError(t, err)
	assert.False(t, out.Rewarded)
}

// rewardFailStore fails every write of a rewarded record while failing is
// set.
type rewardFailStore struct {
	*kv.Memory
	mu      sync.Mutex
	failing bool
}

func (s *rewardFailStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *rewardFailStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing && strings.Contains(value, "completed_rewarded") {
		return errors.New("disk full")
	}
	return s.Memory.Set(ctx, key, value)
}

func TestRewardWithheldUntilRewardedPhaseIsSaved(t *testing.T) {
	ctx := context.Background()
	store := &rewardFailStore{Memory: kv.NewMemory()}
	require.NoError(t, store.Set(ctx, quest.KeyActive,
		`{"quest":{"id":"q","title":"Deep Work","reward_gold":100,"target_minutes":1},"phase":"active"}`))

	load := func() (*economy.Ledger, *quest.Lifecycle) {
		ledger, err := economy.Load(ctx, store, testutil.TestLogger())
		require.NoError(t, err)
		life, err := quest.Load(ctx, quest.Config{
			Store: store, Generator: &stubGenerator{}, Rewarder: ledger, Logger: testutil.TestLogger(),
		})
		require.NoError(t, err)
		return ledger, life
	}

	ledger, life := load()
	start := ledger.Coins()
	store.setFailing(true)

	out, err := life.EvaluateProgress(ctx, 60)
	require.Error(t, err)
	assert.True(t, out.Completed)
	assert.False(t, out.Rewarded)
	assert.Equal(t, quest.PhaseCompletedUnrewarded, out.Phase)
	assert.Equal(t, start, ledger.Coins(), "nothing is paid while the rewarded phase cannot be saved")

	out, err = life.EvaluateProgress(ctx, 60)
	require.Error(t, err)
	assert.False(t, out.Rewarded)
	assert.Equal(t, start, ledger.Coins())

	store.setFailing(false)
	out, err = life.EvaluateProgress(ctx, 60)
	require.NoError(t, err)
	assert.True(t, out.Rewarded)
	assert.Equal(t, start+100, ledger.Coins())

	ledger, life = load()
	out, err = life.EvaluateProgress(ctx, 60)
	require.NoError(t, err)
	assert.False(t, out.Rewarded, "a reloaded rewarded quest pays nothing")
	assert.Equal(t, start+100, ledger.Coins())
}

func TestZeroCountUsesDefault(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	ledger, err := economy.Load(ctx, store, testutil.TestLogger())
	require.NoError(t, err)
	gen := &stubGenerator{next: []model.Quest{{Title: "A"}, {Title: "B"}, {Title: "C"}}}
	life, err := quest.Load(ctx, quest.Config{
		Store: store, Generator: gen, Rewarder: ledger, Logger: testutil.TestLogger(),
	})
	require.NoError(t, err)

	cands, err := life.GenerateCandidates(ctx, quest.SessionSummary{})
	require.NoError(t, err)
	assert.Len(t, gen.calls, quest.DefaultCount)
	assert.Len(t, cands, quest.DefaultCount+1)
}

func TestMalformedRecordIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, quest.KeyActive, `{not json`))
	require.NoError(t, f.store.Set(ctx, quest.KeyCandidates, `[oops`))
	f.reload(t)

	_, _, err := f.life.Active()
	require.ErrorIs(t, err, quest.ErrNoActiveQuest)
	assert.Empty(t, f.life.Candidates())
}

func TestCandidatesSurviveReload(t *testing.T) {
	f := newFixture(t)
	f.gen.next = []model.Quest{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	cands, err := f.life.GenerateCandidates(context.Background(), quest.SessionSummary{})
	require.NoError(t, err)

	f.reload(t)
	assert.Equal(t, cands, f.life.Candidates())
	_, err = f.life.Select(context.Background(), cands[1].ID)
	require.NoError(t, err)
}

func TestPhaseJSON(t *testing.T) {
	for _, p := range []quest.Phase{quest.PhaseNone, quest.PhaseActive, quest.PhaseCompletedUnrewarded, quest.PhaseCompletedRewarded} {
		b, err := p.MarshalJSON()
		require.NoError(t, err)
		var got quest.Phase
		require.NoError(t, got.UnmarshalJSON(b))
		assert.Equal(t, p, got)
	}
	var p quest.Phase
	assert.Error(t, p.UnmarshalJSON([]byte(`"finished"`)))
	assert.True(t, quest.PhaseCompletedUnrewarded.Completed())
	assert.False(t, quest.PhaseActive.Completed())
}
