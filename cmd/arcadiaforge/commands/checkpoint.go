package commands

import (
	"context"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/arcadiaforge/arcadiaforge/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and manage checkpoints (spec.md §4.4)",
}

var checkpointLimit int
var checkpointTrigger string

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		filter := checkpoint.ListFilter{Limit: checkpointLimit, Trigger: checkpoint.Trigger(checkpointTrigger)}
		cps, err := c.Checkpoints.List(context.Background(), filter)
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			fmt.Println("no checkpoints found")
			return nil
		}
		for _, cp := range cps {
			fmt.Printf("%s  %-20s  %s  %d/%d passing  session=%d\n",
				cp.ID, cp.Trigger, cp.Timestamp.Format("2006-01-02T15:04:05"), cp.FeaturesPassing, cp.FeaturesTotal, cp.SessionID)
		}
		return nil
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one checkpoint's full detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		cp, err := c.Checkpoints.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:        %s\n", cp.ID)
		fmt.Printf("Trigger:   %s\n", cp.Trigger)
		fmt.Printf("Time:      %s\n", cp.Timestamp)
		fmt.Printf("Session:   %d\n", cp.SessionID)
		fmt.Printf("Git:       %s @ %s (clean=%v)\n", cp.GitCommit, cp.GitBranch, cp.GitClean)
		fmt.Printf("Features:  %d/%d passing\n", cp.FeaturesPassing, cp.FeaturesTotal)
		if cp.HumanNote != "" {
			fmt.Printf("Note:      %s\n", cp.HumanNote)
		}
		if len(cp.PendingWork) > 0 {
			fmt.Println("Pending work:")
			for _, w := range cp.PendingWork {
				fmt.Printf("  - %s\n", w)
			}
		}
		return nil
	},
}

var checkpointDiffCmd = &cobra.Command{
	Use:   "diff <id-a> <id-b>",
	Short: "Diff two checkpoints' feature status and tracked-file fingerprint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := c.Checkpoints.Get(ctx, args[0])
		if err != nil {
			return err
		}
		b, err := c.Checkpoints.Get(ctx, args[1])
		if err != nil {
			return err
		}

		fmt.Printf("features: %d/%d -> %d/%d\n", a.FeaturesPassing, a.FeaturesTotal, b.FeaturesPassing, b.FeaturesTotal)
		for idx, bPass := range b.FeatureStatus {
			if aPass, ok := a.FeatureStatus[idx]; !ok || aPass != bPass {
				fmt.Printf("  feature %d: %v -> %v\n", idx, aPass, bPass)
			}
		}

		if a.FilesHash != b.FilesHash {
			dmp := diffmatchpatch.New()
			diffs := dmp.DiffMain(a.FilesHash, b.FilesHash, false)
			fmt.Printf("files hash changed: %s\n", dmp.DiffPrettyText(diffs))
		}
		return nil
	},
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Hard-reset the working tree and feature status to a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		result, err := c.Checkpoints.RollbackTo(context.Background(), args[0], true)
		if err != nil {
			return err
		}
		fmt.Println(result.Message)
		return nil
	},
}

var checkpointCreateTrigger string
var checkpointCreateNote string

var checkpointCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Manually create a checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		trigger := checkpoint.TriggerManual
		if checkpointCreateTrigger != "" {
			trigger = checkpoint.Trigger(checkpointCreateTrigger)
		}
		cp, err := c.Checkpoints.Create(context.Background(), trigger, 0, nil, checkpointCreateNote, nil)
		if err != nil {
			return err
		}
		fmt.Println(cp.ID)
		return nil
	},
}

var checkpointStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize checkpoint history",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		cps, err := c.Checkpoints.List(context.Background(), checkpoint.ListFilter{Limit: 10000})
		if err != nil {
			return err
		}
		byTrigger := map[checkpoint.Trigger]int{}
		for _, cp := range cps {
			byTrigger[cp.Trigger]++
		}
		fmt.Printf("total checkpoints: %d\n", len(cps))
		for trig, n := range byTrigger {
			fmt.Printf("  %-20s %d\n", trig, n)
		}
		return nil
	},
}

var checkpointCleanKeep int

var checkpointCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Report how many checkpoints would be pruned beyond --keep most recent (no deletion performed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		cps, err := c.Checkpoints.List(context.Background(), checkpoint.ListFilter{Limit: 10000})
		if err != nil {
			return err
		}
		if len(cps) <= checkpointCleanKeep {
			fmt.Println("nothing to clean")
			return nil
		}
		fmt.Printf("%d checkpoint(s) beyond the most recent %d would be pruned\n", len(cps)-checkpointCleanKeep, checkpointCleanKeep)
		return nil
	},
}

func init() {
	checkpointListCmd.Flags().IntVar(&checkpointLimit, "limit", 20, "Maximum checkpoints to list")
	checkpointListCmd.Flags().StringVar(&checkpointTrigger, "trigger", "", "Filter by trigger kind")
	checkpointCreateCmd.Flags().StringVar(&checkpointCreateTrigger, "trigger", "", "Trigger kind (defaults to manual)")
	checkpointCreateCmd.Flags().StringVar(&checkpointCreateNote, "note", "", "Human note to attach")
	checkpointCleanCmd.Flags().IntVar(&checkpointCleanKeep, "keep", 50, "Number of most recent checkpoints to keep")

	checkpointCmd.AddCommand(checkpointListCmd, checkpointShowCmd, checkpointDiffCmd,
		checkpointRollbackCmd, checkpointCreateCmd, checkpointCleanCmd, checkpointStatsCmd)
}
