package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cramsino/cramsino/internal/session"
	"github.com/cramsino/cramsino/sdk/go/relay"
)

const runHelp = `commands: start | pause | reset | quests | select <id> | ledger | quit`

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a focus session against the relay",
		Long: "Starts the focus timer, polls the relay for the client_id and auto-pauses\n" +
			"while talking or distraction persists. Reads commands from stdin.\n\n" + runHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireClientID(); err != nil {
				return err
			}
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			return c.runSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (c *cli) runSession(ctx context.Context, in io.Reader, out io.Writer) error {
	client, err := relay.NewClient(relay.Config{BaseURL: c.cfg.RelayURL, Timeout: c.cfg.PollTimeout})
	if err != nil {
		return err
	}

	p := &eventPrinter{w: out}
	machine := session.NewMachine(session.MachineConfig{
		PollInterval: c.cfg.PollInterval,
		Wallet:       c.ledger,
		Quests:       c.quests,
		Observer:     p.observe,
		Logger:       c.logger,
	})
	rt := session.NewRuntime(session.RuntimeConfig{
		Machine:      machine,
		Poller:       session.NewPoller(client, c.cfg.ClientID, c.cfg.PollTimeout, c.logger),
		Quests:       c.quests,
		PollInterval: c.cfg.PollInterval,
		Logger:       c.logger,
	})
	defer func() { _ = rt.Close() }()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	p.printf("session started for %s\n%s\n", c.cfg.ClientID, runHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			p.printf("stopped\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep running until interrupted.
				lines = nil
				continue
			}
			if quit := c.handle(ctx, rt, p, line); quit {
				return nil
			}
		}
	}
}

func (c *cli) handle(ctx context.Context, rt *session.Runtime, p *eventPrinter, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "start", "resume", "s":
		if err := rt.Start(ctx); err != nil {
			p.printf("cannot start: %v\n", err)
		}
	case "pause", "p":
		rt.Pause()
	case "reset", "r":
		if err := rt.Reset(); err != nil {
			p.printf("reset: %v\n", err)
		}
	case "quests", "g":
		cands, err := rt.GenerateQuests(ctx)
		if err != nil {
			p.printf("quests: %v\n", err)
		}
		for _, q := range cands {
			p.printf("  %s  %s (%.1f min, %.0f gold, %.0f xp)\n", q.ID, q.Title, q.TargetMinutes, q.RewardGold, q.RewardXP)
		}
	case "select":
		if len(fields) != 2 {
			p.printf("usage: select <id>\n")
			return false
		}
		q, err := rt.SelectQuest(ctx, fields[1])
		if err != nil {
			p.printf("select: %v\n", err)
			return false
		}
		p.printf("active quest: %s\n", q.Title)
	case "ledger", "l":
		var sb strings.Builder
		printLedger(&sb, c.ledger.Snapshot())
		p.printf("%s", sb.String())
	case "quit", "q", "exit":
		return true
	default:
		p.printf("%s\n", runHelp)
	}
	return false
}

// eventPrinter writes session events as they happen. The tick and poll
// loops call it concurrently.
type eventPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *eventPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *eventPrinter) observe(ev session.Event) {
	s := ev.Snapshot
	switch ev.Kind {
	case session.EventStateChanged:
		p.printf("[%s] %s -> %s\n", clock(s.ElapsedSeconds), ev.From, s.State)
	case session.EventTick:
		if s.ElapsedSeconds%30 == 0 {
			p.printf("[%s] clean focus %s, talking %ds, distracted %ds\n",
				clock(s.ElapsedSeconds), clock(s.CleanFocusSeconds), s.TalkingStreakSeconds, s.DistractedStreakSeconds)
		}
	case session.EventCoins:
		p.printf("[%s] +%d coins (%d this session)\n", clock(s.ElapsedSeconds), ev.Coins, s.CoinsEarned)
	case session.EventQuest:
		if ev.Quest.Completed {
			p.printf("[%s] quest complete: %s\n", clock(s.ElapsedSeconds), ev.Quest.Quest.Title)
		}
		if ev.Quest.Rewarded {
			p.printf("[%s] reward: %.0f gold, %.0f xp\n", clock(s.ElapsedSeconds), ev.Quest.Quest.RewardGold, ev.Quest.Quest.RewardXP)
		}
		if ev.Quest.LevelsGained > 0 {
			p.printf("[%s] level up! (+%d)\n", clock(s.ElapsedSeconds), ev.Quest.LevelsGained)
		}
	case session.EventReset:
		p.printf("session reset\n")
	}
	if ev.Err != nil {
		p.printf("warning: %v\n", ev.Err)
	}
}

// clock formats seconds as mm:ss.
func clock(secs int) string {
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
