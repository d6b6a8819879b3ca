// Package quest tracks the offered quests, the one the player accepted and
// its at-most-once reward.
package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cramsino/cramsino/internal/kv"
	"github.com/cramsino/cramsino/internal/model"
)

// Persistence keys.
const (
	KeyActive     = "cramsinoActiveQuest"
	KeyCandidates = "cramsinoQuestCandidates"
)

// DefaultCount is how many quests are requested from the generator.
const DefaultCount = 2

var (
	ErrUnknownCandidate = errors.New("quest: no such candidate")
	ErrNoActiveQuest    = errors.New("quest: no active quest")
)

// Generator produces one quest proposal. It must not fail; a generator
// that cannot reach its backend returns a fallback quest.
type Generator interface {
	Generate(ctx context.Context, req model.QuestRequest) model.Quest
}

// Rewarder receives quest rewards. *economy.Ledger satisfies it.
type Rewarder interface {
	Credit(ctx context.Context, amount int64) error
	AddExperience(ctx context.Context, amount int) (int, error)
}

// SessionSummary describes the last focus session for the generator.
type SessionSummary struct {
	Duration         time.Duration
	DistractionCount int
	WasTalking       bool
}

// Outcome reports what one EvaluateProgress call did.
type Outcome struct {
	Quest        model.Quest
	Phase        Phase
	Completed    bool // the target was reached by this call
	Rewarded     bool // the reward was granted by this call
	LevelsGained int
}

// record is the persisted shape of the active quest.
type record struct {
	Quest     *model.Quest `json:"quest"`
	Completed bool         `json:"completed"`
	Phase     *Phase       `json:"phase,omitempty"`
}

// Config holds the collaborators of a Lifecycle.
type Config struct {
	Store     kv.Store
	Generator Generator
	Rewarder  Rewarder
	Logger    *slog.Logger
	// Count is how many quests GenerateCandidates requests; zero means
	// DefaultCount.
	Count int
}

// Lifecycle owns the candidate list and the active quest. Safe for
// concurrent use.
type Lifecycle struct {
	store   kv.Store
	gen     Generator
	rewards Rewarder
	logger  *slog.Logger
	count   int

	mu         sync.Mutex
	candidates []model.Quest
	active     *model.Quest
	phase      Phase
}

// Load restores the lifecycle from cfg.Store. Malformed records are logged
// and ignored.
func Load(ctx context.Context, cfg Config) (*Lifecycle, error) {
	count := cfg.Count
	if count <= 0 {
		count = DefaultCount
	}
	l := &Lifecycle{
		store:   cfg.Store,
		gen:     cfg.Generator,
		rewards: cfg.Rewarder,
		logger:  cfg.Logger,
		count:   count,
	}

	raw, err := l.store.Get(ctx, KeyActive)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("quest: load active quest: %w", err)
	default:
		l.restoreActive(raw)
	}

	raw, err = l.store.Get(ctx, KeyCandidates)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("quest: load candidates: %w", err)
	default:
		var cands []model.Quest
		if err := json.Unmarshal([]byte(raw), &cands); err != nil {
			l.logger.Warn("quest: ignoring malformed candidates", "error", err)
		} else {
			l.candidates = cands
		}
	}
	return l, nil
}

func (l *Lifecycle) restoreActive(raw string) {
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		l.logger.Warn("quest: ignoring malformed active quest", "error", err)
		return
	}
	if rec.Quest == nil {
		return
	}
	q := Normalize(*rec.Quest)
	l.active = &q

	switch {
	case rec.Phase != nil && *rec.Phase != PhaseNone:
		l.phase = *rec.Phase
	case rec.Completed:
		// Older records carry only the flag; a completed one was paid.
		l.phase = PhaseCompletedRewarded
	default:
		l.phase = PhaseActive
	}
}

// Normalize fills the fields a generated quest may omit: target_minutes
// falls back to target, then to 5, and an empty type means no_distractions.
func Normalize(q model.Quest) model.Quest {
	if q.TargetMinutes <= 0 {
		q.TargetMinutes = q.Target
	}
	if q.TargetMinutes <= 0 {
		q.TargetMinutes = 5
	}
	if q.Type == "" {
		q.Type = model.QuestNoDistractions
	}
	return q
}

// QuickFocusTest is the short local quest offered alongside generated ones.
func QuickFocusTest(now time.Time) model.Quest {
	return model.Quest{
		ID:            strconv.FormatInt(now.UnixMilli(), 10) + "-local",
		Title:         "Quick Focus Test",
		Description:   "Study for 10 seconds without distractions to test the XP system.",
		RewardGold:    50,
		RewardXP:      20,
		Type:          model.QuestMinDuration,
		Target:        10,
		TargetMinutes: 0.1667,
	}
}

// GenerateCandidates replaces the candidate list with Count generated
// quests plus QuickFocusTest and clears the active quest. The caller resets
// the session's clean-focus counter.
func (l *Lifecycle) GenerateCandidates(ctx context.Context, summary SessionSummary) ([]model.Quest, error) {
	req := model.QuestRequest{
		Duration:         int(summary.Duration.Minutes()),
		DistractionCount: summary.DistractionCount,
		WasTalking:       summary.WasTalking,
	}
	cands := make([]model.Quest, 0, l.count+1)
	for range l.count {
		cands = append(cands, Normalize(l.gen.Generate(ctx, req)))
	}
	cands = append(cands, QuickFocusTest(time.Now()))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = cands
	l.active = nil
	l.phase = PhaseNone

	b, err := json.Marshal(cands)
	if err != nil {
		return nil, fmt.Errorf("quest: marshal candidates: %w", err)
	}
	if err := l.store.Set(ctx, KeyCandidates, string(b)); err != nil {
		return cloneQuests(cands), fmt.Errorf("quest: save candidates: %w", err)
	}
	if err := l.store.Delete(ctx, KeyActive); err != nil {
		return cloneQuests(cands), fmt.Errorf("quest: clear active quest: %w", err)
	}
	return cloneQuests(cands), nil
}

// Candidates returns the current offer.
func (l *Lifecycle) Candidates() []model.Quest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneQuests(l.candidates)
}

// Select makes the candidate with id the active quest. The caller resets
// the session's clean-focus counter so the quest clock starts now.
func (l *Lifecycle) Select(ctx context.Context, id string) (model.Quest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.candidates {
		if c.ID != id {
			continue
		}
		q := c
		l.active = &q
		l.phase = PhaseActive
		return q, l.saveLocked(ctx)
	}
	return model.Quest{}, fmt.Errorf("%w: %s", ErrUnknownCandidate, id)
}

// Active returns the active quest and its phase, or ErrNoActiveQuest.
func (l *Lifecycle) Active() (model.Quest, Phase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return model.Quest{}, PhaseNone, ErrNoActiveQuest
	}
	return *l.active, l.phase, nil
}

// EvaluateProgress checks the active quest against cleanFocusSeconds. The
// first call at or past the target completes the quest; the reward is then
// granted exactly once however often this is called afterwards. The
// rewarded phase is saved before the reward is paid, so a crash can lose a
// reward but never pay it twice.
func (l *Lifecycle) EvaluateProgress(ctx context.Context, cleanFocusSeconds int) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil {
		return Outcome{Phase: PhaseNone}, nil
	}
	out := Outcome{Quest: *l.active, Phase: l.phase}

	if l.phase == PhaseActive {
		target := l.active.TargetSeconds()
		if target <= 0 || float64(cleanFocusSeconds) < target {
			return out, nil
		}
		l.phase = PhaseCompletedUnrewarded
		out.Completed = true
		if err := l.saveLocked(ctx); err != nil {
			l.logger.Warn("quest: save completion", "error", err)
		}
	}

	if l.phase != PhaseCompletedUnrewarded {
		out.Phase = l.phase
		return out, nil
	}

	l.phase = PhaseCompletedRewarded
	if err := l.saveLocked(ctx); err != nil {
		// Unpaid until the rewarded phase is durable; retried next call.
		l.phase = PhaseCompletedUnrewarded
		out.Phase = l.phase
		return out, err
	}
	out.Phase = l.phase
	out.Rewarded = true

	var errs []error
	if gold := wholeAmount(l.active.RewardGold); gold > 0 {
		if err := l.rewards.Credit(ctx, gold); err != nil {
			errs = append(errs, fmt.Errorf("quest: credit reward: %w", err))
		}
	}
	if xp := wholeAmount(l.active.RewardXP); xp > 0 {
		gained, err := l.rewards.AddExperience(ctx, int(xp))
		out.LevelsGained = gained
		if err != nil {
			errs = append(errs, fmt.Errorf("quest: grant xp: %w", err))
		}
	}
	return out, errors.Join(errs...)
}

func (l *Lifecycle) saveLocked(ctx context.Context) error {
	if l.active == nil {
		if err := l.store.Delete(ctx, KeyActive); err != nil {
			return fmt.Errorf("quest: clear active quest: %w", err)
		}
		return nil
	}
	phase := l.phase
	b, err := json.Marshal(record{Quest: l.active, Completed: phase.Completed(), Phase: &phase})
	if err != nil {
		return fmt.Errorf("quest: marshal active quest: %w", err)
	}
	if err := l.store.Set(ctx, KeyActive, string(b)); err != nil {
		return fmt.Errorf("quest: save active quest: %w", err)
	}
	return nil
}

// wholeAmount rounds a reward to whole units; negative or non-finite
// rewards pay nothing.
func wholeAmount(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return int64(math.Round(v))
}

func cloneQuests(qs []model.Quest) []model.Quest {
	out := make([]model.Quest, len(qs))
	copy(out, qs)
	return out
}
