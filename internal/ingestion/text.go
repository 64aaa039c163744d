package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/zettel-agent/backend/internal/storage/models"
)

// TextIngester reads plain UTF-8 text. The title is the file name without
// its extension.
type TextIngester struct{}

func (TextIngester) Extract(ctx context.Context, src Source) (*Content, error) {
	data := src.Data
	if data == nil {
		var err error
		data, err = os.ReadFile(src.Path)
		if err != nil {
			return nil, err
		}
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%s is not valid UTF-8 text", src.Path)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("%s is empty", src.Path)
	}

	base := filepath.Base(src.Path)
	return &Content{
		Title:      strings.TrimSuffix(base, filepath.Ext(base)),
		SourceType: models.SourceText,
		SourcePath: src.Path,
		Text:       text,
	}, nil
}
