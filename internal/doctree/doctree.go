// Package doctree discovers translatable documents under the source tree
// and resolves the opener responsible for each document kind.
package doctree

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/raawaa/ja-translate/internal/domain"
)

// TranslatableDocument is a parsed document that can enumerate its blocks,
// accept translations for them, and render itself back to bytes.
//
// Blocks must return the same ordinal sequence on every call against the
// same source bytes; resumption depends on it.
type TranslatableDocument interface {
	Blocks() []domain.Block
	// Merge writes one block's translation back into the tree. A merge
	// that would duplicate an existing translation either overwrites it
	// in place or reports domain.ErrStructural and leaves the tree
	// untouched; it never produces two translated variants.
	Merge(ordinal int, translated string) error
	Render() ([]byte, error)
}

// Opener parses raw document bytes into a TranslatableDocument.
type Opener interface {
	Kind() domain.DocumentKind
	Open(relPath string, content []byte) (TranslatableDocument, error)
}

// Registry keeps a mapping from document kinds to their openers.
type Registry struct {
	openers map[domain.DocumentKind]Opener
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: map[domain.DocumentKind]Opener{}}
}

// Register adds or replaces an opener implementation.
func (r *Registry) Register(op Opener) {
	if r.openers == nil {
		r.openers = map[domain.DocumentKind]Opener{}
	}
	r.openers[op.Kind()] = op
}

// Resolve returns an opener by kind or an error if it is absent.
func (r *Registry) Resolve(kind domain.DocumentKind) (Opener, error) {
	if op, ok := r.openers[kind]; ok {
		return op, nil
	}
	return nil, fmt.Errorf("no opener registered for kind %s", kind)
}

// Classify maps a file path to its document kind by extension.
func Classify(path string) domain.DocumentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xhtml", ".html", ".htm":
		return domain.KindMarkup
	case ".ncx":
		return domain.KindTocXML
	case ".opf":
		return domain.KindMetadataXML
	default:
		return domain.KindOpaque
	}
}

// Scan walks the source tree once and returns every file as a Document in
// lexical order. Identity (the relative path) is immutable for the run.
func Scan(sourceDir string) ([]domain.Document, error) {
	var docs []domain.Document
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		docs = append(docs, domain.Document{
			RelPath: filepath.ToSlash(rel),
			Kind:    Classify(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sourceDir, err)
	}
	return docs, nil
}
