package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/zettel-agent/backend/internal/app"
	"github.com/zettel-agent/backend/internal/ingestion"
	"github.com/zettel-agent/backend/internal/query"
	"github.com/zettel-agent/backend/internal/storage/models"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Extract, summarize and link files or URLs",
		ArgsUsage: "<path|url>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Source type for every argument (web, text, pdf, audio, video); detected when empty",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("at least one path or URL is required")
			}

			sources := make([]ingestion.Source, len(paths))
			for i, p := range paths {
				sources[i] = ingestion.Source{Type: models.SourceType(cmd.String("type")), Path: p}
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				outcomes := a.Processor.IngestAll(ctx, sources)
				if failed := renderOutcomes(os.Stdout, outcomes); failed > 0 {
					return fmt.Errorf("%d of %d sources failed", failed, len(outcomes))
				}
				return nil
			})
		},
	}
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Run a natural language search over the notes",
		ArgsUsage: "<text>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			text := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("query text is required")
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				result, err := a.Resolver.Resolve(ctx, text)
				if err != nil {
					return err
				}
				return renderResult(os.Stdout, result)
			})
		},
	}
}

func exploreCommand() *cli.Command {
	return &cli.Command{
		Name:      "explore",
		Usage:     "Show a note, the notes it links to and its novelty",
		ArgsUsage: "<note-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("note id is required")
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				note, err := a.Notes.Get(ctx, id)
				if err != nil {
					return err
				}
				related, err := a.Notes.Related(ctx, id, a.Config.Novelty.RelatedMinStrength)
				if err != nil {
					return err
				}
				report, err := a.Notes.AnalyzeNovelty(ctx, id)
				if err != nil {
					return err
				}

				renderNote(os.Stdout, note)

				headerColor.Fprintln(os.Stdout, "\nRelated Notes:")
				if len(related) == 0 {
					warnColor.Fprintln(os.Stdout, "No related content found")
				} else {
					views := make([]query.NoteView, len(related))
					for i, n := range related {
						views[i] = query.View(n)
					}
					renderNotes(os.Stdout, views)
				}

				headerColor.Fprintln(os.Stdout, "\nNovelty Analysis:")
				return renderJSON(os.Stdout, report)
			})
		},
	}
}

func noveltyCommand() *cli.Command {
	return &cli.Command{
		Name:      "novelty",
		Usage:     "Break down how novel a stored note is",
		ArgsUsage: "<note-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("note id is required")
			}

			return withApp(ctx, cmd, func(a *app.App) error {
				report, err := a.Notes.AnalyzeNovelty(ctx, id)
				if err != nil {
					return err
				}
				return renderJSON(os.Stdout, report)
			})
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk with an assistant that answers from the notes",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-sources",
				Usage: "Start with source references hidden",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *app.App) error {
				session := a.Sessions.Get("cli")
				return chatLoop(ctx, session, os.Stdin, os.Stdout, !cmd.Bool("no-sources"))
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recently resolved queries (sqlite store only)",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of queries to show",
				Value: 20,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withApp(ctx, cmd, func(a *app.App) error {
				if a.History == nil {
					return fmt.Errorf("query history requires the sqlite store")
				}
				records, err := a.History.GetQueryHistory(ctx, int(cmd.Int("limit")))
				if err != nil {
					return err
				}
				renderHistory(os.Stdout, records)
				return nil
			})
		},
	}
}
