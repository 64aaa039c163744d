package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zettel-agent/backend/internal/apperr"
	"github.com/zettel-agent/backend/internal/linking"
	"github.com/zettel-agent/backend/internal/llm"
	"github.com/zettel-agent/backend/internal/similarity"
	"github.com/zettel-agent/backend/internal/storage/memory"
	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/internal/testutil"
	"github.com/zettel-agent/backend/pkg/config"
)

const page = `<html>
<head><title> Consensus 101 </title><style>body { color: red }</style></head>
<body>
<script>var tracking = true;</script>
<h1>Raft</h1>
<p>Raft   elects a
leader.</p>
<ul><li>Terms</li><li>Logs</li></ul>
</body>
</html>`

func TestDetectType(t *testing.T) {
	cases := map[string]models.SourceType{
		"https://example.com/post": models.SourceWeb,
		"HTTP://EXAMPLE.COM":       models.SourceWeb,
		"/tmp/paper.PDF":           models.SourcePDF,
		"talk.mp3":                 models.SourceAudio,
		"lecture.mkv":              models.SourceVideo,
		"saved.html":               models.SourceWeb,
		"notes.md":                 models.SourceText,
		"README":                   models.SourceText,
	}
	for path, want := range cases {
		assert.Equal(t, want, DetectType(path), path)
	}
}

func TestRegistry(t *testing.T) {
	registry := DefaultRegistry(nil)
	assert.Equal(t, []models.SourceType{models.SourceText, models.SourceWeb}, registry.Types())

	t.Run("Unregistered type", func(t *testing.T) {
		_, err := registry.Extract(context.Background(), Source{Path: "paper.pdf"})
		assert.ErrorIs(t, err, ErrUnsupportedSource)
		assert.Contains(t, err.Error(), "pdf")
	})

	t.Run("External ingesters can be registered", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(models.SourcePDF, ingesterFunc(func(ctx context.Context, src Source) (*Content, error) {
			return &Content{Title: "Paper", SourceType: models.SourcePDF, SourcePath: src.Path, Text: "pdf text"}, nil
		}))

		content, err := registry.Extract(context.Background(), Source{Path: "paper.pdf"})
		require.NoError(t, err)
		assert.Equal(t, "pdf text", content.Text)
	})

	t.Run("Explicit type wins over detection", func(t *testing.T) {
		content, err := registry.Extract(context.Background(), Source{Type: models.SourceText, Path: "page.html", Data: []byte("<p>raw</p>")})
		require.NoError(t, err)
		assert.Equal(t, "<p>raw</p>", content.Text)
	})
}

type ingesterFunc func(ctx context.Context, src Source) (*Content, error)

func (f ingesterFunc) Extract(ctx context.Context, src Source) (*Content, error) { return f(ctx, src) }

func TestParseHTML(t *testing.T) {
	title, text, err := ParseHTML([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Consensus 101", title)
	assert.Equal(t, "Raft\nRaft elects a\nleader.\nTerms\nLogs", text)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color")

	t.Run("Title falls back to heading", func(t *testing.T) {
		title, _, err := ParseHTML([]byte("<body><h1>Heading</h1><p>x</p></body>"))
		require.NoError(t, err)
		assert.Equal(t, "Heading", title)
	})
}

func TestWebIngester(t *testing.T) {
	t.Run("Fetches URLs and retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(page))
		}))
		defer server.Close()

		content, err := NewWebIngester(server.Client()).Extract(context.Background(), Source{Path: server.URL + "/raft"})
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, "Consensus 101", content.Title)
		assert.Equal(t, models.SourceWeb, content.SourceType)
		assert.Equal(t, server.URL+"/raft", content.SourcePath)
	})

	t.Run("Client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := NewWebIngester(server.Client()).Extract(context.Background(), Source{Path: server.URL})
		assert.ErrorContains(t, err, "status 404")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Reads local files", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "saved.html")
		require.NoError(t, os.WriteFile(path, []byte(page), 0o644))

		content, err := NewWebIngester(nil).Extract(context.Background(), Source{Path: path})
		require.NoError(t, err)
		assert.Contains(t, content.Text, "Raft elects a")
	})

	t.Run("Empty page", func(t *testing.T) {
		_, err := NewWebIngester(nil).Extract(context.Background(), Source{Path: "x.html", Data: []byte("<html><body><script>x</script></body></html>")})
		assert.ErrorContains(t, err, "no content")
	})
}

func TestTextIngester(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reading-list.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  Designing Data-Intensive Applications\n"), 0o644))

	content, err := TextIngester{}.Extract(context.Background(), Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "reading-list", content.Title)
	assert.Equal(t, "Designing Data-Intensive Applications", content.Text)
	assert.Equal(t, models.SourceText, content.SourceType)

	t.Run("Rejects binary and empty input", func(t *testing.T) {
		_, err := TextIngester{}.Extract(context.Background(), Source{Path: "a.bin", Data: []byte{0xff, 0xfe}})
		assert.Error(t, err)
		_, err = TextIngester{}.Extract(context.Background(), Source{Path: "a.txt", Data: []byte("  \n")})
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := TextIngester{}.Extract(context.Background(), Source{Path: filepath.Join(t.TempDir(), "nope.txt")})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

// echoSummarizer uses the text itself as the summary.
type echoSummarizer struct {
	err   error
	calls atomic.Int32
}

func (s *echoSummarizer) Summarize(ctx context.Context, text string) (*llm.Summary, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Summary{
		Summary:     text,
		MainPoints:  []string{"point"},
		Topics:      []string{"systems", "systems"},
		Entities:    []string{"Raft"},
		KeyConcepts: map[string]string{"leader": "the node that orders writes"},
	}, nil
}

func newProcessor(t *testing.T, summarizer Summarizer) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	engine := linking.NewEngine(store, similarity.NewEngine(testutil.NewTokenEmbedder()), config.Default().Novelty)
	return NewProcessor(DefaultRegistry(nil), summarizer, engine, 2), store
}

func TestProcess(t *testing.T) {
	processor, store := newProcessor(t, &echoSummarizer{})

	result, err := processor.Process(context.Background(), Source{Path: "raft.txt", Data: []byte("leaders replicate logs")})
	require.NoError(t, err)

	note := result.Note
	assert.Equal(t, "raft", note.Title)
	assert.Equal(t, models.SourceText, note.SourceType)
	assert.Equal(t, "leaders replicate logs", note.Summary)
	assert.Equal(t, []string{"systems"}, note.Tags)
	assert.Equal(t, []string{"Raft"}, note.Entities)
	assert.Equal(t, "the node that orders writes", note.KeyConcepts["leader"])
	assert.True(t, note.IsNewInformation)
	assert.Equal(t, 1, store.Len())

	t.Run("Summarizer failure stores nothing", func(t *testing.T) {
		processor, store := newProcessor(t, &echoSummarizer{err: errors.New("model down")})
		_, err := processor.Process(context.Background(), Source{Path: "a.txt", Data: []byte("text")})
		assert.ErrorContains(t, err, "model down")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("Extraction failure skips summarizing", func(t *testing.T) {
		summarizer := &echoSummarizer{}
		processor, _ := newProcessor(t, summarizer)
		_, err := processor.Process(context.Background(), Source{Path: "talk.mp3"})
		assert.ErrorIs(t, err, ErrUnsupportedSource)
		assert.Equal(t, int32(0), summarizer.calls.Load())
	})
}

func TestIngestAll(t *testing.T) {
	processor, store := newProcessor(t, &echoSummarizer{})

	sources := []Source{
		{Path: "a.txt", Data: []byte("alpha beta gamma")},
		{Path: "b.txt", Data: []byte("delta epsilon zeta")},
		{Path: "c.mp4"},
		{Path: "d.txt", Data: []byte("eta theta iota")},
	}
	outcomes := processor.IngestAll(context.Background(), sources)
	require.Len(t, outcomes, len(sources))

	for i, o := range outcomes {
		assert.Equal(t, sources[i].Path, o.Source.Path)
	}
	assert.ErrorIs(t, outcomes[2].Err, ErrUnsupportedSource)
	for _, i := range []int{0, 1, 3} {
		require.NoError(t, outcomes[i].Err)
		assert.True(t, strings.HasPrefix(outcomes[i].Result.Note.Summary, strings.TrimSpace(string(sources[i].Data))))
	}
	assert.Equal(t, 3, store.Len())

	t.Run("Repeated content is reported as duplicate", func(t *testing.T) {
		outcomes := processor.IngestAll(context.Background(), []Source{{Path: "again.txt", Data: []byte("alpha beta gamma")}})
		assert.ErrorIs(t, outcomes[0].Err, apperr.ErrDuplicateContent)
		assert.Equal(t, 3, store.Len())
	})
}
