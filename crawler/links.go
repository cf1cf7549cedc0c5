package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

var staticExtensions = []string{".png", ".jpg", ".gif", ".css", ".js", ".svg"}

// linkSet keeps discovered article URLs unique and in discovery order.
type linkSet struct {
	max   int
	seen  map[string]struct{}
	order []string
}

func newLinkSet(limit int) *linkSet {
	return &linkSet{max: limit, seen: make(map[string]struct{})}
}

// Add reports whether link was new and accepted.
func (s *linkSet) Add(link string) bool {
	if s.Full() {
		return false
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	s.order = append(s.order, link)
	return true
}

func (s *linkSet) Full() bool {
	return s.max > 0 && len(s.order) >= s.max
}

func (s *linkSet) Len() int { return len(s.order) }

func (s *linkSet) Links() []string {
	return append([]string(nil), s.order...)
}

// linkFilter accepts article links and makes them absolute.
type linkFilter struct {
	base    *url.URL
	pattern string
}

func newLinkFilter(baseURL, pattern string) (*linkFilter, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	return &linkFilter{base: base, pattern: pattern}, nil
}

func (f *linkFilter) Accept(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "#") {
		return "", false
	}
	if f.pattern != "" && !strings.Contains(href, f.pattern) {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, ext := range staticExtensions {
		if strings.Contains(lower, ext) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := f.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Host = strings.ToLower(abs.Host)
	return abs.String(), true
}
