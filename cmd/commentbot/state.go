package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"commentbot/internal/storage"
	logx "commentbot/pkg/logx"
)

var stateJSON bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Summarize the dedupe state",
	Long:  `Show how many comments are recorded in the dedupe state, when the newest one was saved and how they spread over assignments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(storage.Config{Driver: cfg.StateDriver, Path: cfg.StateFile}, logx.Nop())
		if err != nil {
			return err
		}
		defer store.Close()

		sum, err := summarize(cmd.Context(), store)
		if err != nil {
			return err
		}
		sum.Path = cfg.StateFile
		sum.Driver = cfg.StateDriver
		if stateJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}
		printSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

func init() {
	stateCmd.Flags().BoolVar(&stateJSON, "json", false, "print the summary as JSON")
}

type assignmentCount struct {
	AssignmentID *int64 `json:"assignment_id"`
	Comments     int    `json:"comments"`
}

type stateSummary struct {
	Path          string            `json:"path"`
	Driver        string            `json:"driver"`
	Exists        bool              `json:"exists"`
	Comments      int               `json:"comments"`
	NewestSavedAt string            `json:"newest_saved_at,omitempty"`
	Assignments   []assignmentCount `json:"assignments"`
}

func summarize(ctx context.Context, store storage.Store) (stateSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sum := stateSummary{Exists: store.Existed(), Comments: store.Len(), Assignments: []assignmentCount{}}
	lister, ok := store.(storage.Lister)
	if !ok {
		return sum, nil
	}
	recs, err := lister.Records(ctx)
	if err != nil {
		return sum, err
	}

	byAssignment := map[int64]int{}
	unknown := 0
	for _, rec := range recs {
		// SavedAt uses a fixed-width UTC layout, so string order is time order.
		if rec.SavedAt > sum.NewestSavedAt {
			sum.NewestSavedAt = rec.SavedAt
		}
		if rec.AssignmentID == nil {
			unknown++
			continue
		}
		byAssignment[*rec.AssignmentID]++
	}
	ids := make([]int64, 0, len(byAssignment))
	for id := range byAssignment {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		id := id
		sum.Assignments = append(sum.Assignments, assignmentCount{AssignmentID: &id, Comments: byAssignment[id]})
	}
	if unknown > 0 {
		sum.Assignments = append(sum.Assignments, assignmentCount{Comments: unknown})
	}
	return sum, nil
}

func printSummary(w io.Writer, sum stateSummary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Dedupe State ==="))
	fmt.Fprintf(w, "  Path:     %s (%s)\n", sum.Path, sum.Driver)
	if !sum.Exists {
		fmt.Fprintf(w, "  %s\n\n", gray("No state yet; the next run is a first run"))
		return
	}
	fmt.Fprintf(w, "  Comments: %s\n", green(sum.Comments))
	if sum.NewestSavedAt != "" {
		fmt.Fprintf(w, "  Newest:   %s\n", sum.NewestSavedAt)
	}
	if len(sum.Assignments) == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "\n%s\n", yellow("By assignment:"))
	for _, a := range sum.Assignments {
		label := gray("unknown")
		if a.AssignmentID != nil {
			label = fmt.Sprint(*a.AssignmentID)
		}
		fmt.Fprintf(w, "  %-12s %d\n", label, a.Comments)
	}
	fmt.Fprintln(w)
}
