// Package ingestion turns raw sources into summarized notes.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zettel-agent/backend/internal/storage/models"
)

var ErrUnsupportedSource = errors.New("unsupported source type")

// Source is something to ingest. Path is a file path or URL; Data, when set,
// holds the already-read bytes and Path only names them.
type Source struct {
	Type models.SourceType
	Path string
	Data []byte
}

// Content is the text extracted from a source.
type Content struct {
	Title      string
	SourceType models.SourceType
	SourcePath string
	Text       string
}

// Ingester extracts text from one kind of source.
type Ingester interface {
	Extract(ctx context.Context, src Source) (*Content, error)
}

type Registry struct {
	mu        sync.RWMutex
	ingesters map[models.SourceType]Ingester
}

func NewRegistry() *Registry {
	return &Registry{ingesters: make(map[models.SourceType]Ingester)}
}

// Register binds an ingester to a source type, replacing any previous one.
func (r *Registry) Register(sourceType models.SourceType, ingester Ingester) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ingesters[sourceType] = ingester
}

func (r *Registry) Lookup(sourceType models.SourceType) (Ingester, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ingester, ok := r.ingesters[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, sourceType)
	}
	return ingester, nil
}

// Types lists the registered source types in sorted order.
func (r *Registry) Types() []models.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.SourceType, 0, len(r.ingesters))
	for t := range r.ingesters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Extract dispatches src to the ingester for its type, detecting the type
// from the path when it is not set.
func (r *Registry) Extract(ctx context.Context, src Source) (*Content, error) {
	if src.Type == "" {
		src.Type = DetectType(src.Path)
	}

	ingester, err := r.Lookup(src.Type)
	if err != nil {
		return nil, err
	}

	content, err := ingester.Extract(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", src.Path, err)
	}
	return content, nil
}

var extensionTypes = map[string]models.SourceType{
	".pdf":   models.SourcePDF,
	".mp3":   models.SourceAudio,
	".wav":   models.SourceAudio,
	".m4a":   models.SourceAudio,
	".flac":  models.SourceAudio,
	".ogg":   models.SourceAudio,
	".mp4":   models.SourceVideo,
	".mov":   models.SourceVideo,
	".avi":   models.SourceVideo,
	".mkv":   models.SourceVideo,
	".webm":  models.SourceVideo,
	".html":  models.SourceWeb,
	".htm":   models.SourceWeb,
	".xhtml": models.SourceWeb,
}

// DetectType guesses a source type from a URL scheme or file extension.
// Anything unrecognized is treated as plain text.
func DetectType(path string) models.SourceType {
	lower := strings.ToLower(path)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return models.SourceWeb
	}
	if t, ok := extensionTypes[filepath.Ext(lower)]; ok {
		return t
	}
	return models.SourceText
}
