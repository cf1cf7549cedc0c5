package ingestion

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mukasc/genexus-ai-assistant/domain"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// DefaultSeparators runs from paragraph breaks down to single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Splitter cuts record text into overlapping chunks. Lengths are counted in
// characters (runes), not bytes.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

type SplitterOption func(*Splitter)

func WithChunkSize(size int) SplitterOption {
	return func(s *Splitter) { s.chunkSize = size }
}

func WithChunkOverlap(overlap int) SplitterOption {
	return func(s *Splitter) { s.overlap = overlap }
}

// WithSeparators replaces the separator list. Without a trailing "" a piece
// with no remaining separator is emitted whole even if it exceeds the chunk size.
func WithSeparators(separators ...string) SplitterOption {
	return func(s *Splitter) { s.separators = append([]string(nil), separators...) }
}

func NewSplitter(opts ...SplitterOption) *Splitter {
	s := &Splitter{
		chunkSize:  defaultChunkSize,
		overlap:    defaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = defaultChunkSize
	}
	if s.overlap < 0 {
		s.overlap = 0
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize - 1
	}
	if len(s.separators) == 0 {
		s.separators = DefaultSeparators
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }
func (s *Splitter) Overlap() int   { return s.overlap }

// span is a half-open byte range of the record text.
type span struct {
	start, end int
}

// Split returns the chunks of one record in text order. Every chunk carries a
// copy of the record metadata.
func (s *Splitter) Split(record domain.Record) []domain.Chunk {
	text := record.Content
	if strings.TrimSpace(text) == "" {
		return nil
	}

	spans := s.splitSpan(text, span{0, len(text)}, s.separators)
	chunks := make([]domain.Chunk, 0, len(spans))
	for _, sp := range spans {
		start, end := trimSpan(text, sp)
		if start >= end {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			Text:     text[start:end],
			Index:    len(chunks),
			Offset:   start,
			Metadata: domain.CloneMetadata(record.Metadata),
		})
	}
	return chunks
}

// SplitAll splits every record, keeping record order.
func (s *Splitter) SplitAll(records []domain.Record) []domain.Chunk {
	var chunks []domain.Chunk
	for _, record := range records {
		chunks = append(chunks, s.Split(record)...)
	}
	return chunks
}

func (s *Splitter) splitSpan(text string, whole span, separators []string) []span {
	separator := separators[len(separators)-1]
	var remaining []string
	segment := text[whole.start:whole.end]
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(segment, candidate) {
			separator = candidate
			remaining = separators[i+1:]
			break
		}
	}

	var (
		out  []span
		good []span
	)
	for _, piece := range cut(text, whole, separator) {
		if s.length(text, piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(text, good)...)
			good = nil
		}
		if len(remaining) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, s.splitSpan(text, piece, remaining)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(text, good)...)
	}
	return out
}

// merge packs adjacent pieces into windows of at most chunkSize characters.
// After each emitted window the tail pieces totalling at most overlap
// characters are carried into the next one.
func (s *Splitter) merge(text string, pieces []span) []span {
	var (
		out     []span
		window  []span
		lengths []int
		total   int
	)
	for _, piece := range pieces {
		n := s.length(text, piece)
		if total+n > s.chunkSize && len(window) > 0 {
			out = append(out, span{window[0].start, window[len(window)-1].end})
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= lengths[0]
				window = window[1:]
				lengths = lengths[1:]
			}
		}
		window = append(window, piece)
		lengths = append(lengths, n)
		total += n
	}
	if len(window) > 0 {
		out = append(out, span{window[0].start, window[len(window)-1].end})
	}
	return out
}

func (s *Splitter) length(text string, sp span) int {
	return utf8.RuneCountInString(text[sp.start:sp.end])
}

// cut splits whole on separator, leaving the separator at the end of each
// piece so the pieces concatenate back to the original text.
func cut(text string, whole span, separator string) []span {
	if separator == "" {
		pieces := make([]span, 0, whole.end-whole.start)
		for i := whole.start; i < whole.end; {
			_, size := utf8.DecodeRuneInString(text[i:whole.end])
			pieces = append(pieces, span{i, i + size})
			i += size
		}
		return pieces
	}

	var pieces []span
	for start := whole.start; start < whole.end; {
		idx := strings.Index(text[start:whole.end], separator)
		if idx < 0 {
			pieces = append(pieces, span{start, whole.end})
			break
		}
		end := start + idx + len(separator)
		pieces = append(pieces, span{start, end})
		start = end
	}
	return pieces
}

func trimSpan(text string, sp span) (int, int) {
	start, end := sp.start, sp.end
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}
