// Package crawler discovers documentation articles through a paginated
// search listing and loads their content as document records.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/domain"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
)

type Options struct {
	SearchURL      string
	BaseURL        string
	LinkSelector   string
	ArticlePattern string
	MaxArticles    int
	MaxPages       int
	// MaxDuration bounds discovery. When it runs out, the links found so far
	// are fetched.
	MaxDuration       time.Duration
	RequestsPerSecond float64
}

func OptionsFromConfig(cfg config.CrawlConfig) Options {
	return Options{
		SearchURL:         cfg.SearchURL,
		BaseURL:           cfg.BaseURL,
		LinkSelector:      cfg.LinkSelector,
		ArticlePattern:    cfg.ArticlePattern,
		MaxArticles:       cfg.MaxArticles,
		MaxPages:          cfg.MaxPages,
		MaxDuration:       cfg.MaxDuration,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}
}

// Crawler is the web source loader.
type Crawler struct {
	opts    Options
	browser Browser
	fetcher Fetcher
	filter  *linkFilter
	limiter *rate.Limiter
	logger  *log.Logger
}

func New(opts Options, browser Browser, fetcher Fetcher, logger *log.Logger) (*Crawler, error) {
	if logger == nil {
		logger = log.Default()
	}
	if strings.TrimSpace(opts.SearchURL) == "" || strings.TrimSpace(opts.LinkSelector) == "" {
		return nil, fmt.Errorf("%w: crawl search url and link selector are required", domain.ErrConfiguration)
	}
	if opts.MaxArticles <= 0 || opts.MaxPages <= 0 {
		return nil, fmt.Errorf("%w: crawl max articles and max pages must be positive", domain.ErrConfiguration)
	}
	if browser == nil || fetcher == nil {
		return nil, fmt.Errorf("%w: crawler needs a browser and a fetcher", domain.ErrConfiguration)
	}

	filter, err := newLinkFilter(opts.BaseURL, opts.ArticlePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	c := &Crawler{
		opts:    opts,
		browser: browser,
		fetcher: fetcher,
		filter:  filter,
		logger:  logger,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

func (c *Crawler) Name() string { return "web" }

// PageURL returns the listing URL for a 1-based page number.
func (c *Crawler) PageURL(page int) string {
	if page <= 1 {
		return c.opts.SearchURL
	}
	return c.opts.SearchURL + "," + strconv.Itoa(page)
}

func (c *Crawler) Load(ctx context.Context) (ingestion.LoadResult, error) {
	links, err := c.Discover(ctx)
	if err != nil {
		return ingestion.LoadResult{}, err
	}
	if len(links) == 0 {
		c.logger.Printf("no article links were discovered")
		return ingestion.LoadResult{}, nil
	}
	return c.Fetch(ctx, links)
}

// Discover walks the listing pages and collects unique article links. It
// stops at the page limit, on a page without links, or as soon as the
// article limit is reached. Cancelling ctx aborts with its error.
func (c *Crawler) Discover(ctx context.Context) ([]string, error) {
	budgetCtx := ctx
	if c.opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, c.opts.MaxDuration)
		defer cancel()
	}

	session, err := c.browser.NewSession(budgetCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("start discovery session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Printf("close discovery session: %v", closeErr)
		}
	}()

	found := newLinkSet(c.opts.MaxArticles)
	for page := 1; page <= c.opts.MaxPages && !found.Full(); page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if budgetCtx.Err() != nil {
			c.logger.Printf("discovery time budget of %s exhausted before page %d", c.opts.MaxDuration, page)
			break
		}

		pageURL := c.PageURL(page)
		hrefs, err := session.Links(budgetCtx, pageURL, c.opts.LinkSelector)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
				c.logger.Printf("discovery time budget of %s exhausted on page %d", c.opts.MaxDuration, page)
				break
			}
			c.logger.Printf("discovery stopped at page %d (%s): %v", page, pageURL, err)
			break
		}
		if len(hrefs) == 0 {
			c.logger.Printf("no links on page %d, end of results", page)
			break
		}

		added := 0
		for _, href := range hrefs {
			link, ok := c.filter.Accept(href)
			if !ok {
				continue
			}
			if found.Add(link) {
				added++
			}
			if found.Full() {
				break
			}
		}
		c.logger.Printf("page %d: %d links, %d new, %d/%d total", page, len(hrefs), added, found.Len(), c.opts.MaxArticles)
	}

	return found.Links(), nil
}

// Fetch loads each link independently. A failed link is logged and
// reported in the result; only cancellation stops the loop.
func (c *Crawler) Fetch(ctx context.Context, links []string) (ingestion.LoadResult, error) {
	var result ingestion.LoadResult
	for i, link := range links {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		article, err := c.fetcher.Fetch(ctx, link)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			c.logger.Printf("fetch failed for %s: %v", link, err)
			result.Failures = append(result.Failures, domain.NewSourceError(link, err))
			continue
		}

		result.Records = append(result.Records, domain.Record{
			Content: article.Text,
			Metadata: map[string]any{
				domain.MetaSource: link,
				domain.MetaTitle:  article.Title,
			},
		})
		c.logger.Printf("fetched %d/%d %s", i+1, len(links), link)
	}
	return result, nil
}

var _ ingestion.Loader = (*Crawler)(nil)
