// Package markup extracts translatable blocks from XHTML/HTML documents and
// merges translations back as bilingual original/translated sibling pairs.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/raawaa/ja-translate/internal/doctree"
	"github.com/raawaa/ja-translate/internal/domain"
)

// Role marker classes carried by merged variants. An element bearing either
// class is already bilingual and must never be selected or merged again.
const (
	ClassOriginal   = "jt-original"
	ClassTranslated = "jt-translated"
)

// blockTags are the elements eligible for block selection.
var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "div": true,
}

// Opener parses XHTML/HTML content files.
type Opener struct{}

// NewOpener returns the markup document opener.
func NewOpener() *Opener { return &Opener{} }

// Kind identifies the opener inside the registry.
func (o *Opener) Kind() domain.DocumentKind { return domain.KindMarkup }

// Open parses the document and selects its blocks once, before any merge
// touches the tree, so ordinals are a pure function of the source bytes.
func (o *Opener) Open(relPath string, content []byte) (doctree.TranslatableDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}
	d := &Document{relPath: relPath, doc: doc}
	d.collect()
	return d, nil
}

// Document is one parsed markup file with its selected blocks.
type Document struct {
	relPath string
	doc     *goquery.Document
	nodes   []*html.Node
	blocks  []domain.Block
}

var _ doctree.TranslatableDocument = (*Document)(nil)

// Blocks returns the selected blocks in document order. The sequence is
// fixed at Open time and identical on every call.
func (d *Document) Blocks() []domain.Block {
	out := make([]domain.Block, len(d.blocks))
	copy(out, d.blocks)
	return out
}

func (d *Document) collect() {
	roots := d.doc.Find("body").Nodes
	if len(roots) == 0 {
		roots = d.doc.Selection.Nodes
	}
	for _, root := range roots {
		d.walk(root)
	}
	for i := range d.blocks {
		if i > 0 {
			d.blocks[i].PrevText = d.blocks[i-1].Text
		}
		if i < len(d.blocks)-1 {
			d.blocks[i].NextText = d.blocks[i+1].Text
		}
	}
}

// walk selects blocks in pre-order: the first matching element wins and its
// subtree is never visited again, so no selected block is a descendant of
// another. Elements already carrying a role marker are skipped entirely.
func (d *Document) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if hasMarker(c) {
			continue
		}
		if blockTags[c.Data] && hasText(c) {
			d.append(c)
			continue
		}
		d.walk(c)
	}
}

func (d *Document) append(n *html.Node) {
	d.nodes = append(d.nodes, n)
	d.blocks = append(d.blocks, domain.Block{
		DocPath: d.relPath,
		Ordinal: len(d.blocks),
		HTML:    renderNode(n),
		Text:    textContent(n),
		State:   domain.StatePending,
	})
}

// Merge rewrites the selected element into two siblings: the original
// element marked jt-original, followed by a clone carrying the same
// attributes, the translated content and the jt-translated marker. An
// element that already carries a marker is reported with
// domain.ErrStructural and left untouched, which makes the merge a no-op
// on re-application.
func (d *Document) Merge(ordinal int, translated string) error {
	if ordinal < 0 || ordinal >= len(d.nodes) {
		return fmt.Errorf("%s: block %d out of range", d.relPath, ordinal)
	}
	n := d.nodes[ordinal]
	if hasMarker(n) {
		return fmt.Errorf("%s block %d already bilingual: %w", d.relPath, ordinal, domain.ErrStructural)
	}
	if n.Parent == nil {
		return fmt.Errorf("%s block %d detached from tree: %w", d.relPath, ordinal, domain.ErrStructural)
	}

	children, err := fragmentChildren(translated, n.Data)
	if err != nil {
		return fmt.Errorf("%s block %d: parse translation: %w", d.relPath, ordinal, err)
	}

	variant := shallowClone(n)
	for _, c := range children {
		detach(c)
		variant.AppendChild(c)
	}

	addClass(n, ClassOriginal)
	addClass(variant, ClassTranslated)
	n.Parent.InsertBefore(variant, n.NextSibling)
	return nil
}

// Render serializes the whole document back to bytes.
func (d *Document) Render() ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range d.doc.Selection.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render %s: %w", d.relPath, err)
		}
	}
	return buf.Bytes(), nil
}

// fragmentChildren parses the agent's translated markup. When the fragment
// root repeats the block's own tag its children are used, so the variant
// keeps the original element's attributes and never duplicates a key with
// attributes the agent invented on the root.
func fragmentChildren(translated, contextTag string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(translated), ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 1 && nodes[0].Type == html.ElementNode && nodes[0].Data == contextTag {
		var children []*html.Node
		for c := nodes[0].FirstChild; c != nil; {
			next := c.NextSibling
			children = append(children, c)
			c = next
		}
		return children, nil
	}
	return nodes, nil
}

func shallowClone(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	clone.Attr = make([]html.Attribute, len(n.Attr))
	copy(clone.Attr, n.Attr)
	return clone
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	n.Parent = nil
	n.PrevSibling = nil
	n.NextSibling = nil
}

// addClass appends a class token to the existing class attribute, creating
// it when absent. The element ends up with exactly one class declaration.
func addClass(n *html.Node, class string) {
	for i, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		if hasClassToken(a.Val, class) {
			return
		}
		n.Attr[i].Val = strings.TrimSpace(a.Val + " " + class)
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}

func hasMarker(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			return hasClassToken(a.Val, ClassOriginal) || hasClassToken(a.Val, ClassTranslated)
		}
	}
	return false
}

func hasClassToken(classAttr, token string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == token {
			return true
		}
	}
	return false
}

func hasText(n *html.Node) bool {
	return textContent(n) != ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(m *html.Node) {
		if m.Type == html.TextNode {
			sb.WriteString(m.Data)
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}
