package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser starts rendering sessions for discovery.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session renders pages in one browser tab. Close must always be called.
type Session interface {
	// Links loads pageURL, waits until selector matches or the readiness
	// timeout passes, and returns the href of every matching element. A page
	// where nothing matched yields no links and no error.
	Links(ctx context.Context, pageURL, selector string) ([]string, error)
	// HTML loads pageURL and returns the rendered document.
	HTML(ctx context.Context, pageURL string) (string, error)
	Close() error
}

type ChromeOptions struct {
	Headless     bool
	UserAgent    string
	ReadyTimeout time.Duration
	// SettleDelay is an extra fixed wait after the selector matched, for
	// listings that keep injecting results.
	SettleDelay time.Duration
}

// ChromeBrowser drives a local Chrome through chromedp.
type ChromeBrowser struct {
	opts ChromeOptions
}

func NewChromeBrowser(opts ChromeOptions) *ChromeBrowser {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	return &ChromeBrowser{opts: opts}
}

func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
	)
	if b.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(b.opts.UserAgent))
	}

	// The session outlives individual calls, so it hangs off Background and
	// is torn down by Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx:  tabCtx,
		opts: b.opts,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}

	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	opts   ChromeOptions
	cancel context.CancelFunc
	once   sync.Once
}

// bind derives a context from the tab that is also cancelled with ctx.
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Links(ctx context.Context, pageURL, selector string) ([]string, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(pageURL)); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	waitCtx, cancelWait := context.WithTimeout(runCtx, s.opts.ReadyTimeout)
	err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	cancelWait()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("wait for %q on %s: %w", selector, pageURL, err)
	}

	if s.opts.SettleDelay > 0 {
		if err := chromedp.Run(runCtx, chromedp.Sleep(s.opts.SettleDelay)); err != nil {
			return nil, fmt.Errorf("settle %s: %w", pageURL, err)
		}
	}

	var hrefs []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(el => el.getAttribute("href") || "")`, selector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &hrefs)); err != nil {
		return nil, fmt.Errorf("extract links from %s: %w", pageURL, err)
	}
	return hrefs, nil
}

func (s *chromeSession) HTML(ctx context.Context, pageURL string) (string, error) {
	runCtx, cancel := s.bind(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	s.once.Do(s.cancel)
	return nil
}
