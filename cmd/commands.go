package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	app "github.com/okian/clanrank/internal/app"
	"github.com/okian/clanrank/internal/config"
	"github.com/okian/clanrank/internal/domain/access"
	"github.com/okian/clanrank/internal/domain/reconcile"
	"github.com/okian/clanrank/internal/domain/reorder"
)

func (c *cli) topCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the ranked list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				return printTop(ctx, svc, cmd.OutOrStdout(), limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func (c *cli) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <player-id> <up|down>",
		Short: "Move one player a single step and save the order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := reorder.ParseDirection(args[1])
			if err != nil {
				return err
			}
			return c.withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				res, moved, err := svc.MovePlayer(ctx, args[0], dir)
				if err != nil {
					return err
				}
				if !moved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already at the %s\n", args[0], edgeName(dir))
					return nil
				}
				return reportCommit(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) reorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <player-id>...",
		Short: "Put the given players on top, in order, and save",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				res, err := svc.ReorderTo(ctx, args)
				if err != nil {
					return err
				}
				return reportCommit(cmd.OutOrStdout(), res)
			})
		},
	}
}

func (c *cli) seedCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "seed [nickname...]",
		Short: "Add players below the current bottom of the list",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = demoNicknames(count)
			}
			return c.withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				added, err := svc.Seed(ctx, names)
				for _, e := range added {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", e.ID, e.Nickname, e.RankValue)
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "number of demo players when no nicknames are given")
	return cmd
}

// errMemoryStore is returned by one-shot commands under the memory driver,
// whose list would vanish when the command exits.
var errMemoryStore = errors.New("the memory store only lives inside `serve`; set store_driver to sqlite for one-shot commands")

// withService runs fn against a started service acting as the system owner.
func (c *cli) withService(ctx context.Context, fn func(context.Context, *app.Service) error) error {
	if c.cfg.StoreDriver == config.DriverMemory {
		return errMemoryStore
	}
	svc, err := c.openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()
	return fn(access.WithActor(ctx, access.System), svc)
}

func printTop(ctx context.Context, svc *app.Service, w io.Writer, limit int) error {
	entries, err := svc.Leaderboard(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tNICKNAME\tRANK\tMEDAL\tID")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", e.Position, e.Nickname, e.RankValue, e.Medal, e.ID)
	}
	return tw.Flush()
}

// reportCommit prints the commit summary and returns an error unless every
// row was written.
func reportCommit(w io.Writer, res reconcile.CommitResult) error {
	fmt.Fprintln(w, res.Summary())
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  %s: %s\n", f.ID, f.Kind)
	}
	if res.Outcome() != reconcile.Success {
		return fmt.Errorf("commit %s: %s", res.Outcome(), res.Message())
	}
	return nil
}

func demoNicknames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("player-%02d", i+1)
	}
	return out
}

func edgeName(dir reorder.Direction) string {
	if dir == reorder.Up {
		return "top"
	}
	return "bottom"
}
