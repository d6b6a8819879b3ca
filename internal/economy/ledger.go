// Package economy holds the player's persisted coin balance, level and XP.
package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cramsino/cramsino/internal/kv"
)

// Persistence keys. Values are base-10 integer strings.
const (
	KeyCoins = "cramsinoCoins"
	KeyLevel = "cramsinoLevel"
	KeyXP    = "cramsinoXP"
)

// Defaults for a player with no stored state.
const (
	DefaultCoins int64 = 10000
	DefaultLevel       = 1
	DefaultXP          = 0
)

// ErrNegativeAmount is returned when a credit, spend or XP grant is negative.
var ErrNegativeAmount = errors.New("economy: amount must not be negative")

// XPToNextLevel is the XP needed to advance from level.
func XPToNextLevel(level int) int {
	return level * 100
}

// Snapshot is a point-in-time copy of the ledger for display.
type Snapshot struct {
	Coins         int64   `json:"coins"`
	Level         int     `json:"level"`
	XP            int     `json:"xp"`
	XPToNextLevel int     `json:"xp_to_next_level"`
	XPPercent     float64 `json:"xp_percent"`
}

// Ledger is loaded once and saved on every mutation. The in-memory values
// are authoritative: when a save fails the mutation still stands and the
// error is returned so the caller can report it; the next successful save
// writes the current values.
type Ledger struct {
	store  kv.Store
	logger *slog.Logger

	mu    sync.Mutex
	coins int64
	level int
	xp    int
}

// Load reads the ledger from store. Missing or unparseable values fall back
// to the defaults. When no coin balance was ever stored the default balance
// is written back immediately.
func Load(ctx context.Context, store kv.Store, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{store: store, logger: logger, coins: DefaultCoins, level: DefaultLevel, xp: DefaultXP}

	raw, err := store.Get(ctx, KeyCoins)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if err := store.Set(ctx, KeyCoins, strconv.FormatInt(DefaultCoins, 10)); err != nil {
			return nil, fmt.Errorf("economy: seed coins: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("economy: load coins: %w", err)
	default:
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil && n >= 0 {
			l.coins = n
		} else {
			logger.Warn("economy: ignoring stored coins", "value", raw)
		}
	}

	level, err := l.loadInt(ctx, KeyLevel)
	if err != nil {
		return nil, err
	}
	if level != nil && *level >= 1 {
		l.level = *level
	}
	xp, err := l.loadInt(ctx, KeyXP)
	if err != nil {
		return nil, err
	}
	if xp != nil && *xp >= 0 {
		l.xp = *xp
	}
	return l, nil
}

// loadInt returns nil when key is missing or not an integer.
func (l *Ledger) loadInt(ctx context.Context, key string) (*int, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("economy: load %s: %w", key, err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.logger.Warn("economy: ignoring stored value", "key", key, "value", raw)
		return nil, nil
	}
	return &n, nil
}

// Snapshot returns the current values.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	need := XPToNextLevel(l.level)
	pct := float64(l.xp) / float64(need) * 100
	pct = max(0, min(100, pct))
	return Snapshot{Coins: l.coins, Level: l.level, XP: l.xp, XPToNextLevel: need, XPPercent: pct}
}

// Coins returns the current balance.
func (l *Ledger) Coins() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coins
}

// Credit adds amount coins.
func (l *Ledger) Credit(ctx context.Context, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coins += amount
	return l.saveCoinsLocked(ctx)
}

// SpendCoins removes amount coins. An over-spend floors the balance at zero
// rather than failing.
func (l *Ledger) SpendCoins(ctx context.Context, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.coins = max(0, l.coins-amount)
	return l.saveCoinsLocked(ctx)
}

// TrySpend removes amount coins only if the balance covers it, and reports
// whether it did. The check and the spend happen under one lock.
func (l *Ledger) TrySpend(ctx context.Context, amount int64) (bool, error) {
	if amount < 0 {
		return false, ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.coins < amount {
		return false, nil
	}
	l.coins -= amount
	return true, l.saveCoinsLocked(ctx)
}

// AddExperience grants amount XP, carrying over as many level-ups as it
// covers, and returns how many levels were gained.
func (l *Ledger) AddExperience(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	gained := 0
	l.xp += amount
	for l.xp >= XPToNextLevel(l.level) {
		l.xp -= XPToNextLevel(l.level)
		l.level++
		gained++
	}

	if err := l.store.Set(ctx, KeyLevel, strconv.Itoa(l.level)); err != nil {
		return gained, fmt.Errorf("economy: save level: %w", err)
	}
	if err := l.store.Set(ctx, KeyXP, strconv.Itoa(l.xp)); err != nil {
		return gained, fmt.Errorf("economy: save xp: %w", err)
	}
	return gained, nil
}

func (l *Ledger) saveCoinsLocked(ctx context.Context) error {
	if err := l.store.Set(ctx, KeyCoins, strconv.FormatInt(l.coins, 10)); err != nil {
		return fmt.Errorf("economy: save coins: %w", err)
	}
	return nil
}
