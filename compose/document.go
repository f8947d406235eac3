// Package compose assembles cut card images into printable documents and
// tabletop mosaic sheets.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// CardsPerPage is the size of the 3x3 print grid.
const CardsPerPage = 9

// ExtrasName is the document name used when only supplements were requested.
const ExtrasName = "extras"

const (
	documentTitle = "PDF"
	documentStyle = "*,::after,::before{margin:0;padding:0;min-width:0}" +
		".page{width:210mm;height:297mm;display:grid;place-items:center}" +
		".imgs{display:grid;grid-template-columns:63mm 63mm 63mm;grid-template-rows:88mm 88mm 88mm;gap:0.5pt}" +
		"img{width:100%;height:100%}"
)

// DeckResolver resolves a decklist identifier.
type DeckResolver interface {
	Resolve(ctx context.Context, id string) (*models.ResolvedDeck, error)
}

// Supplements selects the fixed card ranges appended after the decklists.
type Supplements struct {
	BasicActions bool
	Marks        bool
}

// Any reports whether a supplement was requested.
func (s Supplements) Any() bool {
	return s.BasicActions || s.Marks
}

// Cards lists the supplementary cards in print order.
func (s Supplements) Cards() []models.CardRef {
	var refs []models.CardRef
	if s.BasicActions {
		for pos := 78; pos <= 79; pos++ {
			refs = append(refs, models.CardRef{Pack: "sg", Position: pos})
		}
	}
	if s.Marks {
		for pos := 66; pos <= 68; pos++ {
			refs = append(refs, models.CardRef{Pack: "ms", Position: pos})
		}
	}
	return refs
}

// DocumentName returns the file name of the document for deckIDs.
func DocumentName(deckIDs []string) string {
	if len(deckIDs) == 0 {
		return ExtrasName + ".html"
	}
	return strings.Join(deckIDs, "_") + ".html"
}

// RenderDocument writes an A4 HTML document placing srcs nine to a page.
// A page is opened only when an image needs it, so there is never a trailing
// empty page; with no images a single empty page is written.
func RenderDocument(w io.Writer, srcs []string) error {
	body := element(atom.Body)
	var grid *html.Node
	for i, src := range srcs {
		if i%CardsPerPage == 0 {
			grid = appendPage(body)
		}
		img := element(atom.Img)
		img.Attr = []html.Attribute{{Key: "src", Val: src}}
		grid.AppendChild(img)
	}
	if len(srcs) == 0 {
		appendPage(body)
	}

	meta := element(atom.Meta)
	meta.Attr = []html.Attribute{{Key: "charset", Val: "UTF-8"}}
	viewport := element(atom.Meta)
	viewport.Attr = []html.Attribute{
		{Key: "name", Val: "viewport"},
		{Key: "content", Val: "width=device-width, initial-scale=1.0"},
	}
	title := element(atom.Title)
	title.AppendChild(&html.Node{Type: html.TextNode, Data: documentTitle})
	style := element(atom.Style)
	style.AppendChild(&html.Node{Type: html.TextNode, Data: documentStyle})

	head := element(atom.Head)
	head.AppendChild(meta)
	head.AppendChild(viewport)
	head.AppendChild(title)
	head.AppendChild(style)

	root := element(atom.Html)
	root.Attr = []html.Attribute{{Key: "lang", Val: "en"}}
	root.AppendChild(head)
	root.AppendChild(body)

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(root)
	return html.Render(w, doc)
}

func appendPage(body *html.Node) *html.Node {
	page := element(atom.Div)
	page.Attr = []html.Attribute{{Key: "class", Val: "page"}}
	grid := element(atom.Div)
	grid.Attr = []html.Attribute{{Key: "class", Val: "imgs"}}
	page.AppendChild(grid)
	body.AppendChild(page)
	return grid
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// Documents builds printable documents from decklists.
type Documents struct {
	Resolver DeckResolver
	Metrics  *metrics.Metrics
}

// Build resolves deckIDs, concatenates their cards in order, appends the
// supplements and writes the document under root. It returns the path written.
func (d *Documents) Build(ctx context.Context, root string, deckIDs []string, sup Supplements) (string, error) {
	var refs []models.CardRef
	for _, id := range deckIDs {
		deck, err := d.Resolver.Resolve(ctx, id)
		if err != nil {
			return "", err
		}
		refs = append(refs, deck.Flatten()...)
	}
	refs = append(refs, sup.Cards()...)

	srcs := make([]string, 0, len(refs))
	for _, ref := range refs {
		if err := requireFile(ref.Path(root)); err != nil {
			return "", err
		}
		srcs = append(srcs, ref.RelPath())
	}

	var buf bytes.Buffer
	if err := RenderDocument(&buf, srcs); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	path := filepath.Join(root, DocumentName(deckIDs))
	if err := artifact.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}

	pages := (len(srcs) + CardsPerPage - 1) / CardsPerPage
	slog.Info("document written", slog.String("path", path), slog.Int("cards", len(srcs)), slog.Int("pages", max(pages, 1)))
	d.Metrics.IncOutput("document")
	return path, nil
}

// requireFile fails with an IOError when a referenced image is missing.
func requireFile(path string) error {
	ok, err := artifact.Exists(path)
	if err != nil {
		return err
	}
	if !ok {
		return &artifact.IOError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return nil
}
