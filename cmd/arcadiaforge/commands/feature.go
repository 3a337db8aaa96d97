package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arcadiaforge/arcadiaforge/internal/feature"
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Inspect the Feature Store (spec.md §4.2)",
}

func categoryFlag(v string) *feature.Category {
	if v == "" {
		return nil
	}
	c := feature.Category(v)
	return &c
}

var featureListCategory string

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List features, optionally filtered by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		features, err := c.Features.List(context.Background(), categoryFlag(featureListCategory))
		if err != nil {
			return err
		}
		for _, f := range features {
			status := "FAIL"
			if f.Passes {
				status = "PASS"
			}
			fmt.Printf("[%3d] %-4s %-10s %s\n", f.Index, status, f.Category, f.Description)
		}
		return nil
	},
}

var featureStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize pass/fail counts by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		stats, err := c.Features.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("total:      %d/%d (%.1f%%)\n", stats.Passing, stats.Total, stats.ProgressPercent())
		fmt.Printf("functional: %d/%d\n", stats.FunctionalPassing, stats.FunctionalTotal)
		fmt.Printf("style:      %d/%d\n", stats.StylePassing, stats.StyleTotal)
		return nil
	},
}

var featureNextCategory string

var featureNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next feature ready to work (dependencies satisfied, not passing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		f, err := c.Features.NextReady(context.Background(), categoryFlag(featureNextCategory))
		if err != nil {
			return err
		}
		if f == nil {
			fmt.Println("no ready feature")
			return nil
		}
		fmt.Printf("[%d] %s\n", f.Index, f.Description)
		return nil
	},
}

var featureShowCmd = &cobra.Command{
	Use:   "show <index>",
	Short: "Show one feature's full detail",
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
		idx, err := indexArg(args[0])
		if err != nil {
			return err
		}
		f, err := c.Features.Get(context.Background(), idx)
		if err != nil {
			return err
		}
		fmt.Printf("Index:       %d\n", f.Index)
		fmt.Printf("Category:    %s\n", f.Category)
		fmt.Printf("Description: %s\n", f.Description)
		fmt.Printf("Passes:      %v\n", f.Passes)
		fmt.Printf("Priority:    %d\n", f.Priority)
		fmt.Printf("Failures:    %d\n", f.FailureCount)
		if len(f.Steps) > 0 {
			fmt.Println("Steps:")
			for _, s := range f.Steps {
				fmt.Printf("  - %s\n", s)
			}
		}
		if len(f.BlockedBy) > 0 {
			fmt.Printf("Blocked by:  %v\n", f.BlockedBy)
		}
		return nil
	},
}

var featureSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search feature descriptions",
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
		matches, err := c.Features.Search(context.Background(), args[0])
		if err != nil {
			return err
		}
		for _, f := range matches {
			fmt.Printf("[%d] %s\n", f.Index, f.Description)
		}
		return nil
	},
}

var featureValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the feature graph (contiguous indices, dependency cycles)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := workDir()
		if err != nil {
			return err
		}
		c, err := openComponents(dir)
		if err != nil {
			return err
		}
		ok, issues, err := c.Features.Validate(context.Background())
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("valid")
			return nil
		}
		for _, issue := range issues {
			fmt.Println(issue)
		}
		return fmt.Errorf("%d validation issue(s)", len(issues))
	},
}

var featureMarkPass bool

var featureMarkCmd = &cobra.Command{
	Use:   "mark <index>",
	Short: "Mark a feature passing or failing",
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
		idx, err := indexArg(args[0])
		if err != nil {
			return err
		}
		warning, err := c.Features.Mark(context.Background(), idx, featureMarkPass)
		if err != nil {
			return err
		}
		if warning != "" {
			fmt.Println(warning)
		}
		return nil
	},
}

func indexArg(s string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil {
		return 0, fmt.Errorf("invalid feature index %q", s)
	}
	return idx, nil
}

func init() {
	featureListCmd.Flags().StringVar(&featureListCategory, "category", "", "Filter by category (functional|style)")
	featureNextCmd.Flags().StringVar(&featureNextCategory, "category", "", "Filter by category (functional|style)")
	featureMarkCmd.Flags().BoolVar(&featureMarkPass, "pass", true, "Mark the feature passing (false marks it failing)")

	featureCmd.AddCommand(featureStatsCmd, featureListCmd, featureNextCmd, featureShowCmd,
		featureSearchCmd, featureValidateCmd, featureMarkCmd)
}
