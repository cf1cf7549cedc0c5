package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-shiori/go-readability"
)

const maxArticleBytes = 10 << 20

type Article struct {
	URL   string
	Title string
	Text  string
}

// Fetcher loads the readable content of one article.
type Fetcher interface {
	Fetch(ctx context.Context, articleURL string) (Article, error)
}

// HTTPFetcher downloads articles with a plain GET; the article pages are
// server-rendered so no browser is needed.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, articleURL string) (Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return Article{}, fmt.Errorf("create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Article{}, fmt.Errorf("get article: status %s", resp.Status)
	}

	return extractArticle(io.LimitReader(resp.Body, maxArticleBytes), articleURL)
}

// BrowserFetcher renders articles in a browser session that is started on
// first use and kept until Close.
type BrowserFetcher struct {
	browser Browser
	timeout time.Duration

	mu      sync.Mutex
	session Session
}

func NewBrowserFetcher(browser Browser, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{browser: browser, timeout: timeout}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, articleURL string) (Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		session, err := f.browser.NewSession(ctx)
		if err != nil {
			return Article{}, err
		}
		f.session = session
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	html, err := f.session.HTML(fetchCtx, articleURL)
	if err != nil {
		return Article{}, err
	}
	return extractArticle(strings.NewReader(html), articleURL)
}

func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	err := f.session.Close()
	f.session = nil
	return err
}

func extractArticle(r io.Reader, articleURL string) (Article, error) {
	pageURL, err := url.Parse(articleURL)
	if err != nil {
		return Article{}, fmt.Errorf("parse url: %w", err)
	}

	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return Article{}, fmt.Errorf("extract article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Article{}, fmt.Errorf("extract article: no readable content")
	}
	return Article{URL: articleURL, Title: strings.TrimSpace(article.Title), Text: text}, nil
}
