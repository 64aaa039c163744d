package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/zettel-agent/backend/internal/storage/models"
	"github.com/zettel-agent/backend/pkg/logger"
	"github.com/zettel-agent/backend/pkg/retry"
)

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	maxPageBytes = 10 << 20
)

var spaces = regexp.MustCompile(`[ \t\r\f\v]+`)

type httpStatusError struct {
	url  string
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("fetch %s returned status %d", e.url, e.code)
}

// WebIngester extracts readable text from HTML. URLs are fetched over HTTP,
// anything else is read from disk unless the bytes are supplied.
type WebIngester struct {
	httpClient  *http.Client
	retryConfig retry.Config
}

func NewWebIngester(httpClient *http.Client) *WebIngester {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.Retryable = func(err error) bool {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
		}
		return true
	}

	return &WebIngester{httpClient: httpClient, retryConfig: retryConfig}
}

func (w *WebIngester) Extract(ctx context.Context, src Source) (*Content, error) {
	html := src.Data
	if html == nil {
		var err error
		if DetectType(src.Path) == models.SourceWeb && strings.Contains(src.Path, "://") {
			html, err = w.fetch(ctx, src.Path)
		} else {
			html, err = os.ReadFile(src.Path)
		}
		if err != nil {
			return nil, err
		}
	}

	title, text, err := ParseHTML(html)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("no content extracted from HTML")
	}

	return &Content{
		Title:      title,
		SourceType: models.SourceWeb,
		SourcePath: src.Path,
		Text:       text,
	}, nil
}

func (w *WebIngester) fetch(ctx context.Context, url string) ([]byte, error) {
	logger.Info("Fetching web page", zap.String("url", url))

	var body []byte
	err := retry.Do(ctx, w.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := w.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{url: url, code: resp.StatusCode}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	})
	return body, err
}

// ParseHTML returns the page title and its visible text, one block per line.
// The title falls back to the first h1.
func ParseHTML(html []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, head, meta").Remove()
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, br, tr, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}

	return title, strings.Join(lines, "\n"), nil
}
