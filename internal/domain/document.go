package domain

import "strings"

// DocumentKind classifies a file in the source tree by how it is translated.
type DocumentKind string

const (
	// KindMarkup is XHTML/HTML book content translated block by block.
	KindMarkup DocumentKind = "markup"
	// KindTocXML is the NCX table of contents; navigation labels are
	// translated in place.
	KindTocXML DocumentKind = "toc-xml"
	// KindMetadataXML is the OPF package file; title/creator/description
	// fields are translated in place.
	KindMetadataXML DocumentKind = "metadata-xml"
	// KindOpaque is everything else: copied to the output tree verbatim.
	KindOpaque DocumentKind = "opaque"
)

// Document is one file discovered under the source tree. Identity is the
// path relative to the source root and stays fixed for the run.
type Document struct {
	RelPath string
	Kind    DocumentKind
}

// BlockState tracks one block through the pipeline.
type BlockState string

const (
	StatePending BlockState = "pending"
	StateDone    BlockState = "done"
	StateFailed  BlockState = "failed"
)

// Block is the smallest unit of translatable content selected for one
// translation call. Ordinal is the order of first appearance in the source
// and is stable across runs as long as the source bytes are unchanged.
type Block struct {
	DocPath string
	Ordinal int
	// HTML is the raw outer markup of the selected element (markup
	// documents) or the raw text content (XML documents).
	HTML string
	// Text is the plain text content, used for context windows, glossary
	// matching and validation.
	Text string
	// PrevText and NextText carry the adjacent blocks' original text so
	// the agent sees local discourse context.
	PrevText string
	NextText string

	State      BlockState
	Translated string
}

// ProgressRecord is the per-document completion summary owned by the
// progress store.
type ProgressRecord struct {
	Total     int
	Completed map[int]string // ordinal -> translated text
	Failed    map[int]int    // ordinal -> attempt count
	Current   int            // last-processed ordinal
}

// NewProgressRecord returns an empty record for a document with no
// persisted state.
func NewProgressRecord() ProgressRecord {
	return ProgressRecord{
		Completed: map[int]string{},
		Failed:    map[int]int{},
		Current:   -1,
	}
}

// IsDone reports whether the given ordinal already has a persisted
// translation.
func (r ProgressRecord) IsDone(ordinal int) bool {
	_, ok := r.Completed[ordinal]
	return ok
}

// ErrorRecord is one failure occurrence, appended to a durable log and
// never mutated afterwards.
type ErrorRecord struct {
	DocPath string
	Ordinal int
	Message string
	Snippet string
}

// DiscoveredTerm is a source-language term seen in a block but absent from
// the glossary. Informational only; it never blocks translation.
type DiscoveredTerm struct {
	Term    string
	Snippet string
}

// Term is one glossary row: a fixed source → target translation.
type Term struct {
	Source string
	Target string
}

// Glossary is the ordered, read-only source → target term mapping loaded
// once per run.
type Glossary struct {
	Terms []Term
}

// HintsFor returns the glossary rows whose source term occurs in text, in
// glossary order, capped at limit (0 means no cap).
func (g Glossary) HintsFor(text string, limit int) []Term {
	var hints []Term
	for _, t := range g.Terms {
		if t.Source == "" {
			continue
		}
		if strings.Contains(text, t.Source) {
			hints = append(hints, t)
			if limit > 0 && len(hints) >= limit {
				break
			}
		}
	}
	return hints
}
