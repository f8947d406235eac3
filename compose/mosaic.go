package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/tools"
)

// MosaicDir is the directory holding per-deck mosaic artifacts.
const MosaicDir = "tts"

// Manifest describes a finished mosaic for the tabletop import dialog.
type Manifest struct {
	DeckID  string      `json:"deck_id"`
	Side    models.Side `json:"side"`
	Columns int         `json:"columns"`
	Rows    int         `json:"rows"`
	Cards   int         `json:"cards"`
	Image   string      `json:"image"`
	Grid    Grid        `json:"grid"`
}

// Mosaics builds tabletop deck sheets.
type Mosaics struct {
	Resolver DeckResolver
	Images   tools.ImageTool
	Metrics  *metrics.Metrics
}

// CellName names the running strip of row after its cell-th image.
func CellName(row, cell int) string {
	return fmt.Sprintf("part-%02d-%02d.png", row, cell)
}

// RowName names the accumulator holding rows 0..row stacked vertically.
func RowName(row int) string {
	return fmt.Sprintf("part-%02d-XX.png", row)
}

// FinalName names the finished mosaic of a deck.
func FinalName(deckID string) string {
	return "_-" + deckID + ".png"
}

// Build resolves deckID and composes its mosaic under root/tts/{deckID}.
func (m *Mosaics) Build(ctx context.Context, root, deckID string) (string, error) {
	deck, err := m.Resolver.Resolve(ctx, deckID)
	if err != nil {
		return "", err
	}
	return m.BuildDeck(ctx, root, deck)
}

// BuildDeck composes the mosaic of an already resolved deck. Every
// intermediate artifact is skipped when it exists, so an interrupted build
// resumes cell by cell.
func (m *Mosaics) BuildDeck(ctx context.Context, root string, deck *models.ResolvedDeck) (string, error) {
	grid := BuildGrid(deck, root)
	if grid.Rows() == 0 {
		return "", fmt.Errorf("deck %s has no cards", deck.ID)
	}
	for _, row := range grid {
		for _, cell := range row {
			if err := requireFile(cell); err != nil {
				return "", err
			}
		}
	}

	dir := filepath.Join(root, MosaicDir, deck.ID)
	if err := artifact.EnsureDir(dir); err != nil {
		return "", err
	}
	logger := slog.With(slog.String("deck", deck.ID))

	var acc string
	for r, row := range grid {
		rowPath := filepath.Join(dir, RowName(r))
		done, err := artifact.Exists(rowPath)
		if err != nil {
			return "", err
		}
		if done {
			logger.Debug("row already generated, skipping", slog.String("path", rowPath))
			acc = rowPath
			continue
		}

		strip, err := m.buildRow(ctx, dir, r, row)
		if err != nil {
			return "", err
		}
		if r == 0 {
			err = artifact.CopyFile(strip, rowPath)
		} else {
			err = m.Images.Append(ctx, acc, strip, rowPath, tools.Vertical)
		}
		if err != nil {
			return "", err
		}
		acc = rowPath
	}

	final := filepath.Join(dir, FinalName(deck.ID))
	done, err := artifact.Exists(final)
	if err != nil {
		return "", err
	}
	if !done {
		if err := artifact.CopyFile(acc, final); err != nil {
			return "", err
		}
	}

	if err := m.writeManifest(dir, deck, grid, final); err != nil {
		return "", err
	}
	logger.Info("mosaic written", slog.String("path", final), slog.Int("rows", grid.Rows()))
	m.Metrics.IncOutput("mosaic")
	return final, nil
}

// buildRow appends the row's images left to right into a running strip and
// returns the path of the full strip.
func (m *Mosaics) buildRow(ctx context.Context, dir string, r int, row []string) (string, error) {
	var strip string
	for c, card := range row {
		out := filepath.Join(dir, CellName(r, c))
		done, err := artifact.Exists(out)
		if err != nil {
			return "", err
		}
		switch {
		case done:
		case c == 0:
			err = artifact.CopyFile(card, out)
		default:
			err = m.Images.Append(ctx, strip, card, out, tools.Horizontal)
		}
		if err != nil {
			return "", err
		}
		strip = out
	}
	return strip, nil
}

func (m *Mosaics) writeManifest(dir string, deck *models.ResolvedDeck, grid Grid, final string) error {
	manifest := Manifest{
		DeckID:  deck.ID,
		Side:    deck.Side,
		Columns: Columns,
		Rows:    grid.Rows(),
		Cards:   deck.Total(),
		Image:   filepath.Base(final),
		Grid:    grid,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return artifact.WriteFileAtomic(filepath.Join(dir, "manifest.json"), append(data, '\n'))
}
