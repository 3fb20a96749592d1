package newswatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"

	trafilatura "github.com/markusmobius/go-trafilatura"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

const (
	// maxArticleBytes caps how much of a page is downloaded for extraction
	maxArticleBytes = 2 << 20

	// maxContentRunes caps the stored article text; prompts only ever use an
	// excerpt anyway
	maxContentRunes = 16000

	// minExtractedRunes rejects extractions that are likely boilerplate
	minExtractedRunes = 100

	userAgent = "agorasim-engine/1.0"
)

// ArticleExtractor downloads a page and pulls out its main text.
type ArticleExtractor struct {
	logger *logrus.Logger
	client *http.Client
}

func NewArticleExtractor(logger *logrus.Logger, client *http.Client) *ArticleExtractor {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &ArticleExtractor{
		logger: logger,
		client: client,
	}
}

// ExtractText fetches the URL and returns the main article text, or "" when
// the page cannot be fetched or yields nothing beyond boilerplate.
func (e *ArticleExtractor) ExtractText(ctx context.Context, rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil || resp == nil || resp.Body == nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArticleBytes))
	if err != nil || len(body) == 0 {
		return ""
	}

	parsed, _ := neturl.Parse(rawURL)
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL:    parsed,
		EnableFallback: true,
		Focus:          trafilatura.Balanced,
	})
	if err != nil || result == nil {
		e.logger.WithField("url", rawURL).WithError(err).Debug("Article extraction failed")
		return ""
	}

	text := strings.TrimSpace(result.ContentText)
	if len([]rune(text)) < minExtractedRunes {
		return ""
	}
	return truncateRunes(text, maxContentRunes)
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// HTMLToText flattens an HTML fragment to plain text by walking the node
// tree. Feeds routinely ship markup inside description fields.
func HTMLToText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil || root == nil {
		stripped := tagRe.ReplaceAllString(fragment, " ")
		return strings.Join(strings.Fields(stripped), " ")
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
