// Package xmldoc translates text nodes of NCX table-of-contents and OPF
// package-metadata files in place. The original bytes are kept verbatim and
// only the targeted character-data ranges are spliced, so attribute order,
// namespaces and formatting survive the rewrite.
package xmldoc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/raawaa/ja-translate/internal/doctree"
	"github.com/raawaa/ja-translate/internal/domain"
)

const dcNamespace = "http://purl.org/dc/elements/1.1/"

// Matcher decides whether the element at the top of the stack holds
// translatable text. The stack includes the current element last.
type Matcher func(stack []xml.Name) bool

// Opener parses one XML document kind with its matcher.
type Opener struct {
	kind  domain.DocumentKind
	match Matcher
}

// NewTocOpener targets the text content of every navigation label
// (navLabel > text) in an NCX file.
func NewTocOpener() *Opener {
	return &Opener{
		kind: domain.KindTocXML,
		match: func(stack []xml.Name) bool {
			n := len(stack)
			return n >= 2 && stack[n-1].Local == "text" && stack[n-2].Local == "navLabel"
		},
	}
}

// NewMetadataOpener targets the Dublin Core title, creator and description
// fields of an OPF package file.
func NewMetadataOpener() *Opener {
	return &Opener{
		kind: domain.KindMetadataXML,
		match: func(stack []xml.Name) bool {
			if len(stack) == 0 {
				return false
			}
			top := stack[len(stack)-1]
			if top.Space != dcNamespace {
				return false
			}
			switch top.Local {
			case "title", "creator", "description":
				return true
			}
			return false
		},
	}
}

// Kind identifies the opener inside the registry.
func (o *Opener) Kind() domain.DocumentKind { return o.kind }

// Open scans the token stream once and records the byte ranges of every
// matched text node. Ordinals follow token order, so an unchanged source
// always reproduces the same sequence.
func (o *Opener) Open(relPath string, content []byte) (doctree.TranslatableDocument, error) {
	d := &Document{relPath: relPath, raw: content, applied: map[int]string{}}

	dec := xml.NewDecoder(bytes.NewReader(content))
	var stack []xml.Name
	var cur *field

	for {
		prev := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", relPath, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name)
			if cur == nil && o.match(stack) {
				cur = &field{depth: len(stack)}
			}
		case xml.EndElement:
			if cur != nil && len(stack) == cur.depth {
				d.finish(cur)
				cur = nil
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if cur != nil {
				cur.text += string(t)
				cur.spans = append(cur.spans, span{start: prev, end: dec.InputOffset()})
			}
		}
	}

	d.context()
	return d, nil
}

type span struct{ start, end int64 }

type field struct {
	text  string
	spans []span
	depth int
}

// Document is one NCX or OPF file with its translatable text fields.
type Document struct {
	relPath string
	raw     []byte
	fields  []field
	blocks  []domain.Block
	applied map[int]string
}

var _ doctree.TranslatableDocument = (*Document)(nil)

func (d *Document) finish(f *field) {
	text := strings.TrimSpace(f.text)
	if text == "" || len(f.spans) == 0 {
		return
	}
	d.fields = append(d.fields, *f)
	d.blocks = append(d.blocks, domain.Block{
		DocPath: d.relPath,
		Ordinal: len(d.blocks),
		HTML:    text,
		Text:    text,
		State:   domain.StatePending,
	})
}

func (d *Document) context() {
	for i := range d.blocks {
		if i > 0 {
			d.blocks[i].PrevText = d.blocks[i-1].Text
		}
		if i < len(d.blocks)-1 {
			d.blocks[i].NextText = d.blocks[i+1].Text
		}
	}
}

// Blocks returns the text fields in token order.
func (d *Document) Blocks() []domain.Block {
	out := make([]domain.Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

// Merge records the translated text for one field. Text is replaced in
// place, so re-applying the same translation is naturally a no-op.
func (d *Document) Merge(ordinal int, translated string) error {
	if ordinal < 0 || ordinal >= len(d.fields) {
		return fmt.Errorf("%s: field %d out of range", d.relPath, ordinal)
	}
	d.applied[ordinal] = translated
	return nil
}

// Render splices the recorded translations into the original bytes. The
// first character-data range of a field receives the escaped translation;
// any further ranges of the same field are emptied.
func (d *Document) Render() ([]byte, error) {
	type edit struct {
		span
		text string
	}
	var edits []edit
	for ordinal, translated := range d.applied {
		for i, s := range d.fields[ordinal].spans {
			text := ""
			if i == 0 {
				text = translated
			}
			edits = append(edits, edit{span: s, text: text})
		}
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var buf bytes.Buffer
	var pos int64
	for _, e := range edits {
		buf.Write(d.raw[pos:e.start])
		if e.text != "" {
			if err := xml.EscapeText(&buf, []byte(e.text)); err != nil {
				return nil, fmt.Errorf("render %s: %w", d.relPath, err)
			}
		}
		pos = e.end
	}
	buf.Write(d.raw[pos:])
	return buf.Bytes(), nil
}
