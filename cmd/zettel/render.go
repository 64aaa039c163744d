package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"go.uber.org/multierr"

	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/internal/query"
	"github.com/zettel-agent/backend/internal/storage/models"
)

var (
	headerColor  = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

const summaryWidth = 100

// confidenceColor is green above 0.8, yellow above 0.5 and red otherwise.
func confidenceColor(confidence float64) *color.Color {
	switch {
	case confidence > 0.8:
		return color.New(color.FgGreen)
	case confidence > 0.5:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderOutcomes(w io.Writer, outcomes []ingestion.Outcome) int {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			errorColor.Fprint(w, "✗ ")
			fmt.Fprintf(w, "%s: %v\n", o.Source.Path, o.Err)
			continue
		}

		note := o.Result.Note
		status := "known"
		if note.IsNewInformation {
			status = "new"
		}
		successColor.Fprint(w, "✓ ")
		fmt.Fprintf(w, "%s [%s] %s, novelty %.2f, %d links\n",
			note.Title, note.ID, status, o.Result.Novelty, len(note.RelatedNodes))
		for _, err := range multierr.Errors(o.Result.EdgeErr) {
			warnColor.Fprintf(w, "  link failed: %v\n", err)
		}
	}
	return failed
}

func renderResult(w io.Writer, result *query.Result) error {
	successColor.Fprintf(w, "%s\n\n", result.Explanation)

	warnColor.Fprintln(w, "Query Intent:")
	if err := renderJSON(w, result.Intent); err != nil {
		return err
	}

	if len(result.Results) == 0 {
		warnColor.Fprintln(w, "\nNo results found")
		return nil
	}
	headerColor.Fprintln(w, "\nResults:")
	renderNotes(w, result.Results)
	return nil
}

func renderNotes(w io.Writer, notes []query.NoteView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSUMMARY\tTAGS\tNEW\tCONFIDENCE")
	for _, n := range notes {
		isNew := "✗"
		if n.IsNew {
			isNew = "✓"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			n.ID, n.Title, truncate(n.Summary, summaryWidth), strings.Join(n.Tags, ", "), isNew, n.Confidence)
	}
	tw.Flush()
}

func renderNote(w io.Writer, note *models.Note) {
	headerColor.Fprintln(w, "Note Details:")
	fmt.Fprintf(w, "Title: %s\n", note.Title)
	fmt.Fprintf(w, "Source: %s (%s)\n", note.SourceType, note.SourcePath)
	fmt.Fprintf(w, "Tags: %s\n", strings.Join(note.Tags, ", "))
	fmt.Fprintf(w, "Summary: %s\n", note.Summary)
}

func renderHistory(w io.Writer, records []models.QueryRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tRESULTS\tLATENCY\tQUERY")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Operation, r.ResultCount, r.LatencyMS, truncate(r.QueryText, summaryWidth))
	}
	tw.Flush()
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
