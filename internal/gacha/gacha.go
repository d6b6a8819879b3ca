// Package gacha sells card packs for coins and rolls their rarity.
package gacha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
)

// PackCost is the price of one pack in coins.
const PackCost int64 = 500

// ErrInsufficientCoins is returned when the balance does not cover a pack.
var ErrInsufficientCoins = errors.New("gacha: insufficient coins")

// Rarity is a card rarity tier.
type Rarity string

const (
	Exclusive Rarity = "exclusive"
	SuperRare Rarity = "super_rare"
	Rare      Rarity = "rare"
	Uncommon  Rarity = "uncommon"
	Common    Rarity = "common"
)

type weighted struct {
	rarity Rarity
	weight float64
}

// rarityTable is ordered rarest first; weights sum to 100.
var rarityTable = []weighted{
	{Exclusive, 0.5},
	{SuperRare, 2},
	{Rare, 7},
	{Uncommon, 20},
	{Common, 70.5},
}

// Weights returns the rarity weights in percent.
func Weights() map[Rarity]float64 {
	out := make(map[Rarity]float64, len(rarityTable))
	for _, w := range rarityTable {
		out[w.rarity] = w.weight
	}
	return out
}

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Roll picks a rarity from src with the table's weights.
func Roll(src Source) Rarity {
	var total float64
	for _, w := range rarityTable {
		total += w.weight
	}
	x := src.Float64() * total
	for _, w := range rarityTable {
		if x < w.weight {
			return w.rarity
		}
		x -= w.weight
	}
	return Common
}

// Wallet is the coin balance packs are paid from. *economy.Ledger satisfies it.
type Wallet interface {
	TrySpend(ctx context.Context, amount int64) (bool, error)
	Coins() int64
}

// Pull is the result of opening one pack.
type Pull struct {
	Rarity  Rarity `json:"rarity"`
	Cost    int64  `json:"cost"`
	Balance int64  `json:"balance"`
}

// Shop sells packs.
type Shop struct {
	wallet Wallet
	src    Source
	logger *slog.Logger
}

// NewShop returns a Shop. A nil src uses a randomly seeded generator.
func NewShop(wallet Wallet, src Source, logger *slog.Logger) *Shop {
	if src == nil {
		src = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Shop{wallet: wallet, src: src, logger: logger}
}

// OpenPack charges PackCost and rolls one rarity. The balance is unchanged
// when it does not cover the cost.
func (s *Shop) OpenPack(ctx context.Context) (Pull, error) {
	ok, err := s.wallet.TrySpend(ctx, PackCost)
	switch {
	case !ok && err != nil:
		return Pull{}, fmt.Errorf("gacha: charge pack: %w", err)
	case !ok:
		return Pull{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCoins, s.wallet.Coins(), PackCost)
	}

	pull := Pull{Rarity: Roll(s.src), Cost: PackCost, Balance: s.wallet.Coins()}
	s.logger.Info("gacha: pack opened", "rarity", pull.Rarity, "balance", pull.Balance)
	// A spend whose save failed still happened; report it with the pull.
	if err != nil {
		return pull, fmt.Errorf("gacha: save balance: %w", err)
	}
	return pull, nil
}
