package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/score"
)

func init() {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute scores from raw counters",
	}

	weakness := &cobra.Command{
		Use:   "weakness",
		Short: "Weakness score (0-100, higher is weaker)",
		Args:  cobra.NoArgs,
		Run:   runWeakness,
	}
	weakness.Flags().Float64("accuracy", 0, "Accuracy, 0-1 for the weighted score or 0-100 with --advanced")
	weakness.Flags().Int("questions", 0, "Questions attempted")
	weakness.Flags().Float64("improvement", 0, "Improvement rate")
	weakness.Flags().Bool("advanced", false, "Use the trend and difficulty adjusted score")
	weakness.Flags().String("trend", "stable", "Trend for --advanced")
	weakness.Flags().Float64("difficulty", 0, "Average difficulty 1-5 for --advanced, 0 = unknown")

	efficiency := &cobra.Command{
		Use:   "efficiency",
		Short: "Session efficiency (0-100)",
		Args:  cobra.NoArgs,
		Run:   runEfficiency,
	}
	efficiency.Flags().Float64("focus", 0, "Focused time")
	efficiency.Flags().Float64("total", 0, "Total time, same unit as --focus")
	efficiency.Flags().Int("correct", 0, "Correct answers")
	efficiency.Flags().Int("questions", 0, "Questions attempted")
	efficiency.Flags().Int("breaks", 0, "Breaks taken")
	efficiency.Flags().Int("optimal-breaks", 0, "Optimal number of breaks")

	cmd.AddCommand(weakness, efficiency)
	rootCmd.AddCommand(cmd)
}

func runWeakness(cmd *cobra.Command, args []string) {
	f := cmd.Flags()
	accuracy, _ := f.GetFloat64("accuracy")
	questions, _ := f.GetInt("questions")

	if advanced, _ := f.GetBool("advanced"); advanced {
		trend, _ := f.GetString("trend")
		difficulty, _ := f.GetFloat64("difficulty")
		fmt.Printf("%.2f\n", score.Advanced(accuracy, questions, trend, difficulty))
		return
	}

	cfg := loadConfig()
	improvement, _ := f.GetFloat64("improvement")
	fmt.Printf("%.2f\n", score.Weakness(accuracy, questions, improvement, cfg.Weights))
}

func runEfficiency(cmd *cobra.Command, args []string) {
	f := cmd.Flags()
	var in score.EfficiencyInput
	in.FocusTime, _ = f.GetFloat64("focus")
	in.TotalTime, _ = f.GetFloat64("total")
	in.Correct, _ = f.GetInt("correct")
	in.Total, _ = f.GetInt("questions")
	in.BreaksTaken, _ = f.GetInt("breaks")
	in.OptimalBreaks, _ = f.GetInt("optimal-breaks")
	fmt.Println(score.Efficiency(in))
}
