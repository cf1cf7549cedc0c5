package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/crawler"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
)

func newIngestCommand(a *app) *cobra.Command {
	var dir, mode string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index the PDF manuals in the corpus directory",
		Long: `Loads every PDF in the corpus directory (non-recursive), splits the pages into
overlapping chunks, embeds them and writes the vector index. The default
rebuild mode replaces the index only after every chunk is embedded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := ingestion.ParseMode(mode)
			if err != nil {
				return err
			}
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if dir == "" {
				dir = rt.cfg.Corpus.Dir
			}
			rt.logger.Printf("ingesting pdf files from %s into %s (%s)", dir, rt.store.Location(), m)

			stats, err := rt.ingest(cmd.Context(), m, ingestion.NewPDFLoader(dir, rt.logger))
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory with PDF files (default corpus.dir)")
	cmd.Flags().StringVar(&mode, "mode", string(ingestion.ModeRebuild), "rebuild or merge")
	return cmd
}

func newCrawlCommand(a *app) *cobra.Command {
	var (
		mode        string
		fetcherName string
		maxArticles int
		maxPages    int
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Index documentation articles found through the docs search",
		Long: `Walks the paginated documentation search listing in a headless browser,
collects article links up to --max-articles, fetches each article and adds it
to the index. Merge mode (the default) appends to the existing index and
falls back to a rebuild when there is none.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := ingestion.ParseMode(mode)
			if err != nil {
				return err
			}
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			crawlCfg := rt.cfg.Crawl
			if maxArticles > 0 {
				crawlCfg.MaxArticles = maxArticles
			}
			if maxPages > 0 {
				crawlCfg.MaxPages = maxPages
			}
			if fetcherName != "" {
				crawlCfg.Fetcher = strings.ToLower(fetcherName)
			}

			browser := a.newBrowser(crawler.ChromeOptions{
				Headless:     crawlCfg.Headless,
				UserAgent:    crawlCfg.UserAgent,
				ReadyTimeout: crawlCfg.ReadyTimeout,
				SettleDelay:  crawlCfg.SettleDelay,
			})

			var fetcher crawler.Fetcher
			switch crawlCfg.Fetcher {
			case config.FetcherBrowser:
				bf := crawler.NewBrowserFetcher(browser, crawlCfg.FetchTimeout)
				defer bf.Close()
				fetcher = bf
			default:
				fetcher = crawler.NewHTTPFetcher(crawlCfg.FetchTimeout, crawlCfg.UserAgent)
			}

			web, err := crawler.New(crawler.OptionsFromConfig(crawlCfg), browser, fetcher, rt.logger)
			if err != nil {
				return err
			}
			rt.logger.Printf("crawling up to %d articles over %d pages from %s", crawlCfg.MaxArticles, crawlCfg.MaxPages, crawlCfg.SearchURL)

			stats, err := rt.ingest(cmd.Context(), m, web)
			if err != nil {
				return fmt.Errorf("crawl ingestion failed: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(ingestion.ModeMerge), "merge or rebuild")
	cmd.Flags().StringVar(&fetcherName, "fetcher", "", "article fetcher: http or browser (default crawl.fetcher)")
	cmd.Flags().IntVar(&maxArticles, "max-articles", 0, "maximum articles to index (default crawl.max_articles)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "maximum search pages to scan (default crawl.max_pages)")
	return cmd
}

func printStats(w io.Writer, stats ingestion.IndexStats) {
	fmt.Fprintf(w, "Mode:       %s\n", stats.Mode)
	fmt.Fprintf(w, "Documents:  %d loaded, %d failed\n", stats.Documents, stats.Failures)
	for _, src := range stats.FailedSources {
		fmt.Fprintf(w, "  failed:   %s\n", src)
	}
	fmt.Fprintf(w, "Chunks:     %d added, %d total in index\n", stats.Added, stats.Total)
	fmt.Fprintf(w, "Duration:   %s\n", stats.Duration.Round(time.Millisecond))
}
