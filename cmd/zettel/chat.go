package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/zettel-agent/backend/internal/responder"
)

const chatHelp = `Ask questions or have a conversation. Answers draw on the notes in the knowledge base.

Commands:
  /help             Show this help
  /clear            Clear conversation history
  /sources on|off   Toggle source references
  /quit             Exit the chat`

type chatSession interface {
	Respond(ctx context.Context, query string, includeSources bool) (*responder.Response, error)
	ClearMemory()
}

// chatLoop reads one message per line from in until EOF or /quit. Failed
// turns are reported and the loop continues.
func chatLoop(ctx context.Context, session chatSession, in io.Reader, out io.Writer, showSources bool) error {
	headerColor.Fprintln(out, "Knowledge-Enhanced Chat")
	fmt.Fprintln(out, chatHelp)

	scanner := bufio.NewScanner(in)
	for {
		headerColor.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case line == "/clear" || line == "clear":
			session.ClearMemory()
			warnColor.Fprintln(out, "Conversation history cleared")
			continue
		case strings.HasPrefix(line, "/sources"):
			switch strings.TrimSpace(strings.TrimPrefix(line, "/sources")) {
			case "on":
				showSources = true
			case "off":
				showSources = false
			default:
				warnColor.Fprintln(out, "Usage: /sources on|off")
				continue
			}
			warnColor.Fprintf(out, "Source display turned %s\n", onOff(showSources))
			continue
		}

		resp, err := session.Respond(ctx, line, showSources)
		if err != nil {
			errorColor.Fprint(out, "\nError: ")
			fmt.Fprintln(out, err)
			continue
		}

		successColor.Fprintln(out, "\nAssistant:")
		fmt.Fprintln(out, resp.Response)
		confidenceColor(resp.Confidence).Fprintf(out, "\nConfidence: %.2f\n", resp.Confidence)

		if showSources && len(resp.Sources) > 0 {
			headerColor.Fprintln(out, "\nSources:")
			for _, s := range resp.Sources {
				fmt.Fprintf(out, "• %s\n", s)
			}
		}
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
