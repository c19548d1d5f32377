package dataset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/krira-ai/rag-engine/internal/apperr"
	"github.com/krira-ai/rag-engine/internal/observability"
	"github.com/krira-ai/rag-engine/internal/textutil"
)

const (
	websiteFetchTimeout = 15 * time.Second
	websiteUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/123.0 Safari/537.36"
	websiteAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// websiteFetcher fetches and extracts text from web pages.
type websiteFetcher struct {
	client *http.Client
	logger *observability.Logger
}

func newWebsiteFetcher(logger *observability.Logger, client *http.Client) *websiteFetcher {
	if client == nil {
		client = &http.Client{Timeout: websiteFetchTimeout}
	}
	return &websiteFetcher{client: client, logger: logger}
}

// loadFromURLs fetches each URL, trying both schemes, and joins the text of
// every page that yielded content. It fails only when every URL failed.
func (f *websiteFetcher) loadFromURLs(ctx context.Context, urls []string) (string, error) {
	var contents []string
	var failures []string

	for _, url := range urls {
		stripped := strings.TrimSpace(url)
		if stripped == "" {
			continue
		}

		var candidates []string
		switch {
		case strings.HasPrefix(stripped, "https://"):
			candidates = []string{stripped, "http://" + strings.TrimPrefix(stripped, "https://")}
		case strings.HasPrefix(stripped, "http://"):
			candidates = []string{stripped, "https://" + strings.TrimPrefix(stripped, "http://")}
		default:
			candidates = []string{"https://" + stripped, "http://" + stripped}
		}

		var textBlock string
		var lastErr error

		for _, candidate := range candidates {
			text, err := f.fetchText(ctx, candidate)
			if err != nil {
				lastErr = err
				f.logger.Warn().Str("url", candidate).Err(err).Msg("Failed to fetch URL")
				continue
			}
			if text != "" {
				textBlock = text
				f.logger.Info().Str("url", candidate).Int("chars", len(text)).Msg("Fetched website content")
				break
			}
		}

		if textBlock != "" {
			contents = append(contents, textBlock)
		} else {
			reason := "no textual content"
			if lastErr != nil {
				reason = lastErr.Error()
			}
			failures = append(failures, stripped+": "+reason)
		}
	}

	if len(contents) == 0 {
		if len(failures) > 0 {
			summary := strings.Join(truncateList(failures, 3), "; ")
			if len(failures) > 3 {
				summary += fmt.Sprintf(" (and %d more errors)", len(failures)-3)
			}
			return "", apperr.Newf(apperr.KindUnprocessable, "Unable to retrieve content from provided URLs: %s", summary)
		}
		return "", apperr.New(apperr.KindUnprocessable, "No content retrieved from provided URLs")
	}

	if len(failures) > 0 {
		summary := strings.Join(truncateList(failures, 2), "; ")
		if len(failures) > 2 {
			summary += fmt.Sprintf(" (and %d more failed)", len(failures)-2)
		}
		f.logger.Warn().Str("failures", summary).Msg("Some URLs failed to load")
		f.logger.Info().
			Int("loaded", len(contents)).
			Int("total", len(contents)+len(failures)).
			Msg("Partial website load")
	}

	return strings.Join(contents, "\n\n"), nil
}

// fetchText retrieves one URL and strips its HTML down to visible text.
func (f *websiteFetcher) fetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", websiteUserAgent)
	req.Header.Set("Accept", websiteAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return textutil.Sanitize(extractHTMLText(string(body))), nil
}

// extractHTMLText walks an HTML document and collects visible text nodes,
// skipping script and style subtrees.
func extractHTMLText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}

	var builder strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if builder.Len() > 0 {
					builder.WriteByte(' ')
				}
				builder.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return builder.String()
}

// truncateList returns at most n entries of list.
func truncateList(list []string, n int) []string {
	if len(list) <= n {
		return list
	}
	return list[:n]
}
