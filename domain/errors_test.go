package domain

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceErrorMatchesSentinelAndCause(t *testing.T) {
	err := NewSourceError("docs/manual.pdf", fs.ErrPermission)

	assert.ErrorIs(t, err, ErrSourceFetch)
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.False(t, errors.Is(err, ErrEmptyCorpus))
	assert.Contains(t, err.Error(), "docs/manual.pdf")
}

func TestSourceOf(t *testing.T) {
	assert.Equal(t, "", SourceOf(nil))
	assert.Equal(t, "a.pdf", SourceOf(map[string]any{MetaSource: "a.pdf"}))
	assert.Equal(t, "42", SourceOf(map[string]any{MetaSource: 42}))

	rec := Record{Content: "x", Metadata: map[string]any{MetaSource: "https://docs.genexus.com/en/wiki?1"}}
	assert.Equal(t, "https://docs.genexus.com/en/wiki?1", rec.Source())
}

func TestCloneMetadataIsIndependent(t *testing.T) {
	orig := map[string]any{MetaSource: "a.pdf", MetaPage: 2}
	clone := CloneMetadata(orig)
	clone[MetaPage] = 3

	assert.Equal(t, 2, orig[MetaPage])
}
