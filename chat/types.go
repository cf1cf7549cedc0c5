package chat

import (
	"github.com/mukasc/genexus-ai-assistant/ingestion"
)

// Source is one retrieved chunk shown next to an answer. Page is 1-based and
// 0 for sources without pages.
type Source struct {
	Source  string               `json:"source"`
	Kind    ingestion.SourceKind `json:"kind"`
	Title   string               `json:"title,omitempty"`
	Page    int                  `json:"page,omitempty"`
	Score   float64              `json:"score"`
	Preview string               `json:"preview"`
}

type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	// Template is the name@version of the prompt that produced Answer.
	Template string `json:"template"`
}
