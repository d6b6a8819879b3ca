// Package session runs one focus session: it folds relay statuses into
// talking and distracted streaks, auto-pauses the focus timer while either
// streak is long enough, and pays coins and quest rewards as time accrues.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/quest"
)

// Reference cadence.
const (
	DefaultPollInterval = 2 * time.Second
	StreakThreshold     = 5   // seconds of talking or distraction that pause the timer
	CoinInterval        = 5   // elapsed seconds per coin batch
	CoinReward          = 500 // coins per batch
)

// ErrInvalidTransition is returned when an operation is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("session: invalid transition")

// State is the session's timer state.
type State int

const (
	StateReady State = iota
	StateRunning
	StatePaused
	StateAutoPaused
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateAutoPaused:
		return "auto_paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Wallet receives coin accruals. *economy.Ledger satisfies it.
type Wallet interface {
	Credit(ctx context.Context, amount int64) error
}

// QuestTracker is told about clean-focus progress and activates offered
// quests. *quest.Lifecycle satisfies it.
type QuestTracker interface {
	EvaluateProgress(ctx context.Context, cleanFocusSeconds int) (quest.Outcome, error)
	Select(ctx context.Context, id string) (model.Quest, error)
}

// Snapshot is a copy of the session counters.
type Snapshot struct {
	State                   State         `json:"state"`
	Generation              uint64        `json:"generation"`
	ElapsedSeconds          int           `json:"elapsed_seconds"`
	CleanFocusSeconds       int           `json:"clean_focus_seconds"`
	TalkingStreakSeconds    int           `json:"talking_streak_seconds"`
	DistractedStreakSeconds int           `json:"distracted_streak_seconds"`
	LastStatus              *model.Status `json:"last_status,omitempty"`
	CoinsEarned             int64         `json:"coins_earned"`
}

// MachineConfig holds the collaborators of a Machine. Wallet, Quests and
// Observer are optional.
type MachineConfig struct {
	PollInterval time.Duration
	Wallet       Wallet
	Quests       QuestTracker
	Observer     Observer
	Logger       *slog.Logger
}

// Machine is the session state. Every mutation takes its lock, so the tick
// and poll loops never lose each other's updates. Wallet and quest writes
// and Observer callbacks run after the lock is released.
type Machine struct {
	streakStep int
	wallet     Wallet
	quests     QuestTracker
	observer   Observer
	logger     *slog.Logger

	// questMu orders progress evaluation against quest selection. Lock
	// order is questMu then mu.
	questMu sync.Mutex

	mu           sync.Mutex
	questEpoch   uint64
	state        State
	generation   uint64
	genDone      chan struct{}
	elapsed      int
	clean        int
	talking      int
	distracted   int
	last         *model.Status
	lastBatch    int
	earned       int64
	distractions int
	wasTalking   bool
}

// NewMachine returns a Machine in StateReady.
func NewMachine(cfg MachineConfig) *Machine {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Machine{
		streakStep: max(1, int(math.Round(interval.Seconds()))),
		wallet:     cfg.Wallet,
		quests:     cfg.Quests,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
		genDone:    make(chan struct{}),
	}
}

// Start begins or resumes the timer. Starting a running session does
// nothing; an auto-paused session resumes only when the policy allows.
func (m *Machine) Start() error {
	m.mu.Lock()
	var events []Event
	switch m.state {
	case StateRunning:
		m.mu.Unlock()
		return nil
	case StateAutoPaused:
		m.mu.Unlock()
		return fmt.Errorf("%w: session is auto-paused", ErrInvalidTransition)
	}
	events = m.setStateLocked(StateRunning, events)
	events = m.evaluateLocked(events)
	m.mu.Unlock()

	m.emit(events)
	return nil
}

// Pause stops the timer. A pause while a streak is still over the
// threshold becomes an auto-pause, which lifts itself when the streaks clear.
func (m *Machine) Pause() {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateAutoPaused {
		m.mu.Unlock()
		return
	}
	events := m.setStateLocked(StatePaused, nil)
	events = m.evaluateLocked(events)
	m.mu.Unlock()

	m.emit(events)
}

// Reset returns to StateReady with every counter zeroed and starts a new
// generation, so results of polls issued earlier are discarded.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.generation++
	m.questEpoch++
	close(m.genDone)
	m.genDone = make(chan struct{})
	m.elapsed, m.clean = 0, 0
	m.talking, m.distracted = 0, 0
	m.last = nil
	m.lastBatch = 0
	m.earned = 0
	m.distractions, m.wasTalking = 0, false
	events := m.setStateLocked(StateReady, nil)
	events = append(events, Event{Kind: EventReset, Snapshot: m.snapshotLocked()})
	m.mu.Unlock()

	m.emit(events)
}

// ApplyStatus folds one successful poll into the streaks and re-evaluates
// the pause policy. It returns false and changes nothing when generation is
// stale or the session has not started.
func (m *Machine) ApplyStatus(generation uint64, st model.Status) bool {
	m.mu.Lock()
	if generation != m.generation || m.state == StateReady {
		m.mu.Unlock()
		return false
	}

	if st.Distracted && (m.last == nil || !m.last.Distracted) {
		m.distractions++
	}
	if st.Talking {
		m.wasTalking = true
	}
	s := st
	m.last = &s
	if st.Talking {
		m.talking += m.streakStep
	} else {
		m.talking = 0
	}
	if st.Distracted {
		m.distracted += m.streakStep
	} else {
		m.distracted = 0
	}

	events := []Event{{Kind: EventStatus, Snapshot: m.snapshotLocked()}}
	events = m.evaluateLocked(events)
	m.mu.Unlock()

	m.emit(events)
	return true
}

// Tick advances the timer by one second when running under generation.
// Clean focus resets to zero while the last status shows talking or
// distraction. Coins are paid in whole batches of elapsed time, so repeated
// or late ticks never pay a batch twice.
func (m *Machine) Tick(ctx context.Context, generation uint64) bool {
	m.mu.Lock()
	if generation != m.generation || m.state != StateRunning {
		m.mu.Unlock()
		return false
	}

	m.elapsed++
	if m.last != nil && (m.last.Talking || m.last.Distracted) {
		m.clean = 0
	} else {
		m.clean++
	}
	events := []Event{{Kind: EventTick, Snapshot: m.snapshotLocked()}}

	var coins *Event
	if batches := m.elapsed / CoinInterval; batches > m.lastBatch {
		amount := int64(batches-m.lastBatch) * CoinReward
		m.lastBatch = batches
		m.earned += amount
		coins = &Event{Kind: EventCoins, Coins: amount, Snapshot: m.snapshotLocked()}
	}
	clean, epoch := m.clean, m.questEpoch
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if coins != nil {
		if m.wallet != nil {
			if err := m.wallet.Credit(ctx, coins.Coins); err != nil {
				m.logger.Warn("session: credit coins", "amount", coins.Coins, "error", err)
				coins.Err = err
			}
		}
		events = append(events, *coins)
	}
	if clean > 0 && m.quests != nil {
		if ev, ok := m.evaluateQuest(ctx, clean, epoch); ok {
			ev.Snapshot = snap
			events = append(events, ev)
		}
	}

	m.emit(events)
	return true
}

// evaluateQuest reports clean focus measured under epoch. A quest selected
// since then has its own clock, so the stale count is dropped.
func (m *Machine) evaluateQuest(ctx context.Context, clean int, epoch uint64) (Event, bool) {
	m.questMu.Lock()
	defer m.questMu.Unlock()

	m.mu.Lock()
	current := m.questEpoch
	m.mu.Unlock()
	if current != epoch {
		return Event{}, false
	}

	out, err := m.quests.EvaluateProgress(ctx, clean)
	if err != nil {
		m.logger.Warn("session: quest progress", "error", err)
	}
	if !out.Completed && !out.Rewarded && err == nil {
		return Event{}, false
	}
	return Event{Kind: EventQuest, Quest: &out, Err: err}, true
}

// SelectQuest activates the offered quest id and starts its clock from
// zero clean focus. No progress measured before the call reaches it.
func (m *Machine) SelectQuest(ctx context.Context, id string) (model.Quest, error) {
	if m.quests == nil {
		return model.Quest{}, fmt.Errorf("session: quests are not configured")
	}
	m.questMu.Lock()
	defer m.questMu.Unlock()

	q, err := m.quests.Select(ctx, id)
	if errors.Is(err, quest.ErrUnknownCandidate) {
		return q, err
	}
	m.ResetCleanFocus()
	return q, err
}

// ResetCleanFocus zeroes the clean-focus counter. Called when a quest is
// selected or the candidate list is regenerated, so the quest clock starts now.
func (m *Machine) ResetCleanFocus() {
	m.mu.Lock()
	m.clean = 0
	m.questEpoch++
	m.mu.Unlock()
}

// Generation identifies the current session run.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Current returns the generation together with a channel that is closed
// when a Reset ends it.
func (m *Machine) Current() (uint64, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation, m.genDone
}

// Snapshot returns a copy of the counters.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Summary describes the session so far for quest generation.
func (m *Machine) Summary() quest.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return quest.SessionSummary{
		Duration:         time.Duration(m.elapsed) * time.Second,
		DistractionCount: m.distractions,
		WasTalking:       m.wasTalking,
	}
}

// evaluateLocked applies the pause policy. It runs whenever the session has
// started, so it overrides a manual pause while a streak holds.
func (m *Machine) evaluateLocked(events []Event) []Event {
	if m.state == StateReady {
		return events
	}
	if m.talking >= StreakThreshold || m.distracted >= StreakThreshold {
		return m.setStateLocked(StateAutoPaused, events)
	}
	if m.state == StateAutoPaused {
		return m.setStateLocked(StateRunning, events)
	}
	return events
}

func (m *Machine) setStateLocked(s State, events []Event) []Event {
	if m.state == s {
		return events
	}
	from := m.state
	m.state = s
	m.logger.Debug("session: state changed", "from", from, "to", s, "generation", m.generation)
	return append(events, Event{Kind: EventStateChanged, From: from, Snapshot: m.snapshotLocked()})
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:                   m.state,
		Generation:              m.generation,
		ElapsedSeconds:          m.elapsed,
		CleanFocusSeconds:       m.clean,
		TalkingStreakSeconds:    m.talking,
		DistractedStreakSeconds: m.distracted,
		CoinsEarned:             m.earned,
	}
	if m.last != nil {
		s := *m.last
		snap.LastStatus = &s
	}
	return snap
}

func (m *Machine) emit(events []Event) {
	if m.observer == nil {
		return
	}
	for _, ev := range events {
		m.observer(ev)
	}
}
