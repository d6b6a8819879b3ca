package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cramsino/cramsino/internal/gacha"
	"github.com/cramsino/cramsino/internal/model"
	"github.com/cramsino/cramsino/internal/quest"
	"github.com/cramsino/cramsino/sdk/go/relay"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest relay status for the client_id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireClientID(); err != nil {
				return err
			}
			client, err := relay.NewClient(relay.Config{BaseURL: c.cfg.RelayURL, Timeout: c.cfg.PollTimeout})
			if err != nil {
				return err
			}
			rec, err := client.Status(cmd.Context(), c.cfg.ClientID)
			if relay.IsNotFound(err) {
				return fmt.Errorf("nothing published yet for %q", c.cfg.ClientID)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id  %s\n", rec.ClientID)
			fmt.Fprintf(out, "updated    %s (%s ago)\n",
				rec.UpdatedAt.Format(time.RFC3339), rec.Age(time.Now()).Truncate(time.Second))
			fmt.Fprintf(out, "status     %s\n", rec.Raw)
			return nil
		},
	}
}

func newQuestsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quests",
		Short: "Generate, list and select quests",
	}

	var summary quest.SessionSummary
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Replace the quest offer and clear the active quest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			cands, err := c.quests.GenerateCandidates(cmd.Context(), summary)
			if err != nil {
				return err
			}
			printQuests(cmd, cands)
			return nil
		},
	}
	generate.Flags().DurationVar(&summary.Duration, "duration", 25*time.Minute, "length of the last session")
	generate.Flags().IntVar(&summary.DistractionCount, "distractions", 2, "distractions in the last session")
	generate.Flags().BoolVar(&summary.WasTalking, "talking", false, "whether talking was detected in the last session")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the offered quests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			cands := c.quests.Candidates()
			if len(cands) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no quests offered; run `focus quests generate`")
				return nil
			}
			printQuests(cmd, cands)
			return nil
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <id>",
		Short: "Accept an offered quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			q, err := c.quests.Select(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active quest: %s\n", q.Title)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active quest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			q, phase, err := c.quests.Active()
			if err != nil {
				return err
			}
			printQuests(cmd, []model.Quest{q})
			fmt.Fprintf(cmd.OutOrStdout(), "  phase: %s\n", phase)
			return nil
		},
	}

	cmd.AddCommand(generate, list, selectCmd, show)
	return cmd
}

func printQuests(cmd *cobra.Command, qs []model.Quest) {
	out := cmd.OutOrStdout()
	for _, q := range qs {
		fmt.Fprintf(out, "%s  %s\n", q.ID, q.Title)
		if q.Description != "" {
			fmt.Fprintf(out, "  %s\n", q.Description)
		}
		fmt.Fprintf(out, "  %s, %.1f min clean focus, reward %.0f gold / %.0f xp\n",
			q.Type, q.TargetMinutes, q.RewardGold, q.RewardXP)
	}
}

func newLedgerCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show coins, level and XP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			snap := c.ledger.Snapshot()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printLedger(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newPackCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Card packs",
	}
	open := &cobra.Command{
		Use:   "open",
		Short: fmt.Sprintf("Buy and open one pack for %d coins", gacha.PackCost),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context()); err != nil {
				return err
			}
			pull, err := gacha.NewShop(c.ledger, nil, c.logger).OpenPack(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled a %s card, %d coins left\n", pull.Rarity, pull.Balance)
			return nil
		},
	}
	cmd.AddCommand(open)
	return cmd
}

func newPublishCmd(c *cli) *cobra.Command {
	var st relay.Status
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one status for the client_id, as a monitoring client would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.requireClientID(); err != nil {
				return err
			}
			pub, err := relay.Dial(cmd.Context(), c.cfg.RelayURL, nil)
			if err != nil {
				return err
			}
			if err := pub.Publish(cmd.Context(), c.cfg.ClientID, st); err != nil {
				_ = pub.Close()
				return err
			}
			if err := pub.Close(); err != nil {
				c.logger.Debug("focus: close publisher", "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published status for %s\n", c.cfg.ClientID)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&st.FacePresent, "face", true, "face_present")
	f.BoolVar(&st.LookingForward, "looking", true, "looking_forward")
	f.BoolVar(&st.Talking, "talking", false, "talking")
	f.BoolVar(&st.Distracted, "distracted", false, "distracted")
	return cmd
}
