package ingestion

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

// PageExtractor returns the plain text of every page of a PDF, in page order.
type PageExtractor func(path string) ([]string, error)

// PDFLoader reads every PDF directly inside a directory and emits one record
// per page with text. A file that cannot be parsed is reported and skipped.
type PDFLoader struct {
	dir     string
	extract PageExtractor
	logger  *log.Logger
}

func NewPDFLoader(dir string, logger *log.Logger) *PDFLoader {
	if logger == nil {
		logger = log.Default()
	}
	return &PDFLoader{dir: dir, extract: ReadPDFPages, logger: logger}
}

// WithExtractor swaps the page extractor.
func (l *PDFLoader) WithExtractor(extract PageExtractor) *PDFLoader {
	l.extract = extract
	return l
}

func (l *PDFLoader) Name() string { return "pdf" }

func (l *PDFLoader) Load(ctx context.Context) (LoadResult, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return LoadResult{}, fmt.Errorf("%w: corpus directory %s: %w", domain.ErrConfiguration, l.dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || DetectFormat(entry.Name()) != FormatPDF {
			continue
		}
		files = append(files, filepath.Join(l.dir, entry.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		l.logger.Printf("no pdf files found in %s", l.dir)
		return LoadResult{}, nil
	}

	var result LoadResult
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pages, err := l.extract(path)
		if err != nil {
			l.logger.Printf("pdf load failed for %s: %v", path, err)
			result.Failures = append(result.Failures, domain.NewSourceError(path, err))
			continue
		}

		added := 0
		for i, text := range pages {
			if strings.TrimSpace(text) == "" {
				continue
			}
			result.Records = append(result.Records, domain.Record{
				Content: text,
				Metadata: map[string]any{
					domain.MetaSource: path,
					domain.MetaPage:   i,
				},
			})
			added++
		}
		l.logger.Printf("loaded %s (%d of %d pages with text)", path, added, len(pages))
	}

	return result, nil
}

// ReadPDFPages extracts page text with ledongthuc/pdf. The parser panics on
// some malformed files, so panics are turned into errors.
func ReadPDFPages(path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages = make([]string, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages[i-1] = normalizePlainText(text)
	}
	return pages, nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
