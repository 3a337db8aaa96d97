package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcadiaforge/arcadiaforge/internal/injection"
)

// respondCmd implements spec.md §6's "respond" CLI: the asynchronous
// transport satisfying the Human Injection request/response contract
// (spec.md §4.11) — any caller that can flip a pending injection row to
// responded satisfies it, this is simply one such caller.
var (
	respondList    bool
	respondPointID string
	respondText    string
	respondAccept  bool
	respondCancel  bool
	respondShow    string
	respondHistory bool
	respondStats   bool
)

var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "List, inspect, and answer pending Human Injection points",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		db, err := openStore(dir)
		if err != nil {
			return err
		}
		iface, err := openInjection(db)
		if err != nil {
			return err
		}
		ctx := context.Background()

		switch {
		case respondStats:
			return runRespondStats(ctx, iface)
		case respondHistory:
			return runRespondHistory(ctx, iface)
		case respondShow != "":
			return runRespondShow(ctx, iface, respondShow)
		case respondPointID != "":
			return runRespondAnswer(ctx, iface, respondPointID)
		default:
			return runRespondList(ctx, iface)
		}
	},
}

func runRespondStats(ctx context.Context, iface *injection.Interface) error {
	stats, err := iface.GetStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("total: %d  pending: %d\n", stats.TotalInjections, stats.PendingCount)
	for t, n := range stats.ByType {
		fmt.Printf("  %-20s %d\n", t, n)
	}
	return nil
}

func runRespondHistory(ctx context.Context, iface *injection.Interface) error {
	entries, err := iface.History(ctx, 50, nil)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %-20s  completed=%v  %s\n", e.PointID, e.Type, e.Completed, e.Recommendation)
	}
	return nil
}

func runRespondShow(ctx context.Context, iface *injection.Interface, pointID string) error {
	p, err := iface.Get(ctx, pointID)
	if err != nil {
		return err
	}
	fmt.Printf("PointID:        %s\n", p.PointID)
	fmt.Printf("Type:           %s\n", p.Type)
	fmt.Printf("Message:        %s\n", p.Message)
	fmt.Printf("Recommendation: %s\n", p.Recommendation)
	if len(p.Options) > 0 {
		fmt.Printf("Options:        %v\n", p.Options)
	}
	fmt.Printf("Status:         %s\n", p.Status)
	return nil
}

func runRespondAnswer(ctx context.Context, iface *injection.Interface, pointID string) error {
	switch {
	case respondAccept:
		p, err := iface.Get(ctx, pointID)
		if err != nil {
			return err
		}
		_, err = iface.Respond(ctx, pointID, p.Recommendation)
		return err
	case respondCancel:
		_, err := iface.Cancel(ctx, pointID)
		return err
	case respondText != "":
		_, err := iface.Respond(ctx, pointID, respondText)
		return err
	default:
		return fmt.Errorf("--point-id requires one of --response, --accept, or --cancel")
	}
}

func runRespondList(ctx context.Context, iface *injection.Interface) error {
	pending, err := iface.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending injection points")
		return nil
	}
	for _, p := range pending {
		fmt.Printf("%s  %-20s  %s\n", p.PointID, p.Type, p.Message)
	}
	return nil
}

func init() {
	respondCmd.Flags().BoolVar(&respondList, "list", false, "List pending injection points (default action)")
	respondCmd.Flags().StringVar(&respondPointID, "point-id", "", "Target a specific injection point")
	respondCmd.Flags().StringVar(&respondText, "response", "", "Free-text response for --point-id")
	respondCmd.Flags().BoolVar(&respondAccept, "accept", false, "Respond with the point's own recommendation")
	respondCmd.Flags().BoolVar(&respondCancel, "cancel", false, "Cancel the point instead of responding")
	respondCmd.Flags().StringVar(&respondShow, "show", "", "Show one injection point's full detail")
	respondCmd.Flags().BoolVar(&respondHistory, "history", false, "Show recent injection history")
	respondCmd.Flags().BoolVar(&respondStats, "stats", false, "Show injection statistics")
}
