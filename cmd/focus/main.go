// Command focus runs Cramsino focus sessions against a presence relay and
// manages the player's coins, level, quests and packs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cramsino/cramsino/internal/config"
	"github.com/cramsino/cramsino/internal/economy"
	"github.com/cramsino/cramsino/internal/kv"
	"github.com/cramsino/cramsino/internal/quest"
	"github.com/cramsino/cramsino/internal/service/questgen"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries the resolved configuration and the lazily opened state shared
// by every subcommand.
type cli struct {
	cfg      config.FocusConfig
	logLevel string
	logger   *slog.Logger

	store  kv.Store
	ledger *economy.Ledger
	quests *quest.Lifecycle
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "focus",
		Short:         "Cramsino focus sessions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.configure(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}

	f := root.PersistentFlags()
	f.String("relay", "", "relay base URL (env FOCUS_RELAY_URL)")
	f.String("client-id", "", "session client_id (env FOCUS_CLIENT_ID)")
	f.Duration("poll-interval", 0, "relay poll interval (env FOCUS_POLL_INTERVAL)")
	f.Duration("poll-timeout", 0, "per-poll timeout (env FOCUS_POLL_TIMEOUT)")
	f.String("state", "", "SQLite state file (env FOCUS_STATE_PATH)")
	f.String("database-url", "", "Postgres DSN, overrides --state (env FOCUS_DATABASE_URL)")
	f.String("quest-url", "", "quest generator URL (env FOCUS_QUEST_URL)")
	f.Int("quest-count", 0, "generated quests per offer (env FOCUS_QUEST_COUNT)")
	f.StringVar(&c.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newStatusCmd(c))
	root.AddCommand(newQuestsCmd(c))
	root.AddCommand(newLedgerCmd(c))
	root.AddCommand(newPackCmd(c))
	root.AddCommand(newPublishCmd(c))
	return root
}

// configure loads env configuration and applies explicitly set flags on top.
func (c *cli) configure(cmd *cobra.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.logLevel)
	}
	c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(c.logger)

	cfg, err := config.LoadFocus()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	overrideString := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	overrideDuration := func(name string, dst *time.Duration) {
		if f.Changed(name) {
			*dst, _ = f.GetDuration(name)
		}
	}
	overrideString("relay", &cfg.RelayURL)
	overrideString("client-id", &cfg.ClientID)
	overrideString("state", &cfg.StatePath)
	overrideString("database-url", &cfg.DatabaseURL)
	overrideString("quest-url", &cfg.QuestURL)
	overrideDuration("poll-interval", &cfg.PollInterval)
	overrideDuration("poll-timeout", &cfg.PollTimeout)
	if f.Changed("quest-count") {
		cfg.QuestCount, _ = f.GetInt("quest-count")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// open loads the persisted ledger and quest state on first use.
func (c *cli) open(ctx context.Context) error {
	if c.store != nil {
		return nil
	}
	store, err := kv.Open(ctx, c.cfg.DatabaseURL, c.cfg.StatePath, c.logger)
	if err != nil {
		return err
	}
	ledger, err := economy.Load(ctx, store, c.logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	quests, err := quest.Load(ctx, quest.Config{
		Store:     store,
		Generator: questgen.New(c.cfg.QuestURL, c.logger),
		Rewarder:  ledger,
		Logger:    c.logger,
		Count:     c.cfg.QuestCount,
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	c.store, c.ledger, c.quests = store, ledger, quests
	return nil
}

func (c *cli) close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

func (c *cli) requireClientID() error {
	if c.cfg.ClientID == "" {
		return fmt.Errorf("a client_id is required: pass --client-id or set FOCUS_CLIENT_ID")
	}
	return nil
}

func printLedger(w io.Writer, snap economy.Snapshot) {
	fmt.Fprintf(w, "coins  %d\n", snap.Coins)
	fmt.Fprintf(w, "level  %d\n", snap.Level)
	fmt.Fprintf(w, "xp     %d / %d (%.0f%%), %d to next level\n",
		snap.XP, snap.XPToNextLevel, snap.XPPercent, snap.XPToNextLevel-snap.XP)
}
