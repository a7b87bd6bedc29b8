package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/abelbrown/studyboard/internal/aggregate"
	"github.com/abelbrown/studyboard/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "aggregate FILE",
		Short: "Daily or weekly rollups of a JSON sessions file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		Run:   runAggregate,
	}
	cmd.Flags().Bool("weekly", false, "Bucket by ISO week instead of day")
	cmd.Flags().Bool("subjects", false, "Per-subject totals instead of time buckets")
	cmd.Flags().String("range", string(model.PresetAll), "Date range preset: today, week, month, quarter, year, all")
	cmd.Flags().StringP("format", "f", "text", "Output format: json or text")

	rootCmd.AddCommand(cmd)
}

func runAggregate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	_, done := setupLogging(cfg, cfg.Log.Dir)
	defer done()

	sessions, err := readSessions(args[0])
	if err != nil {
		exitErr("read sessions", err)
	}

	presetName, _ := cmd.Flags().GetString("range")
	preset, err := model.ParsePreset(presetName)
	if err != nil {
		exitErr("range", err)
	}
	loc := cfg.Location()
	sessions = aggregate.InRange(sessions, model.NewDateRange(preset, time.Now().In(loc)))

	weekly, _ := cmd.Flags().GetBool("weekly")
	bySubject, _ := cmd.Flags().GetBool("subjects")
	format, _ := cmd.Flags().GetString("format")

	var out any
	switch {
	case bySubject:
		out = aggregate.BySubject(sessions)
	case weekly:
		out = aggregate.Weekly(sessions, loc)
	default:
		out = aggregate.Daily(sessions, loc)
	}

	if format == "json" {
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(b))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	switch rows := out.(type) {
	case []model.DailyAggregate:
		fmt.Fprintln(w, "DATE\tTIME\tSESSIONS\tSUBJECTS")
		for _, d := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", d.Date, seconds(d.TotalDuration), d.Sessions, d.UniqueSubjects)
		}
	case []model.WeeklyAggregate:
		fmt.Fprintln(w, "WEEK\tTIME\tSESSIONS\tACCURACY\tTOP SUBJECT")
		for _, wk := range rows {
			top := "-"
			if len(wk.Subjects) > 0 {
				top = wk.Subjects[0].SubjectID
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%s\n", wk.Week, seconds(wk.TotalDuration), wk.Sessions, wk.Accuracy*100, top)
		}
	case []model.SubjectTotal:
		fmt.Fprintln(w, "SUBJECT\tTIME\tSESSIONS\tQUESTIONS\tACCURACY")
		for _, s := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.1f%%\n", s.SubjectID, seconds(s.TotalDuration), s.Sessions, humanize.Comma(int64(s.Questions)), s.Accuracy*100)
		}
	}
}

func readSessions(path string) ([]model.Session, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var sessions []model.Session
	if err := json.NewDecoder(r).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return sessions, nil
}

func seconds(n int64) string {
	return (time.Duration(n) * time.Second).String()
}
