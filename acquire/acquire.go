// Package acquire drives each product from its source document to cut card
// images, and fetches the card backs.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/tools"
)

// Downloader stores the body of a URL at a path unless the path exists.
type Downloader interface {
	Download(ctx context.Context, url, dest string) (string, error)
}

// PageRasterizer extracts page images from a PDF.
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdf, outDir string) ([]models.ExtractedPage, error)
}

// Cutter turns extracted pages into numbered card images.
type Cutter interface {
	Cut(ctx context.Context, product models.Product, pages []models.ExtractedPage, productDir string) (int, error)
}

// Acquirer wires the download, rasterize and cut stages together.
type Acquirer struct {
	Downloader Downloader
	Rasterizer PageRasterizer
	Cutter     Cutter
	Images     tools.ImageTool
}

// Report summarises one acquisition pass.
type Report struct {
	Products []string
	CardsCut int
}

// Product acquires one product under root/{code}.
func (a *Acquirer) Product(ctx context.Context, root string, product models.Product) (int, error) {
	dir := filepath.Join(root, product.Code)
	logger := slog.With(slog.String("product", product.Code))
	logger.Info("acquiring product", slog.String("name", product.Name))

	pdf, err := a.Downloader.Download(ctx, product.URL, filepath.Join(dir, "download", "set.pdf"))
	if err != nil {
		return 0, fmt.Errorf("product %s: %w", product.Code, err)
	}
	pages, err := a.Rasterizer.Rasterize(ctx, pdf, filepath.Join(dir, "extract"))
	if err != nil {
		return 0, fmt.Errorf("product %s: %w", product.Code, err)
	}
	n, err := a.Cutter.Cut(ctx, product, pages, dir)
	if err != nil {
		return 0, fmt.Errorf("product %s: %w", product.Code, err)
	}
	logger.Info("product ready", slog.Int("pages", len(pages)), slog.Int("cards_cut", n))
	return n, nil
}

// Back fetches root/back/{side}/raw.png and crops it to back.png.
func (a *Acquirer) Back(ctx context.Context, root string, back models.CardBack) error {
	dir := filepath.Join(root, "back", string(back.Side))
	raw, err := a.Downloader.Download(ctx, back.URL, filepath.Join(dir, "raw.png"))
	if err != nil {
		return fmt.Errorf("%s back: %w", back.Side, err)
	}

	dst := models.BackPath(root, back.Side)
	exists, err := artifact.Exists(dst)
	if err != nil {
		return err
	}
	if exists {
		slog.Info("back already cropped, skipping", slog.String("path", dst))
		return nil
	}
	if err := a.Images.Crop(ctx, raw, dst, back.Crop); err != nil {
		return fmt.Errorf("%s back: %w", back.Side, err)
	}
	return nil
}

// All acquires every product in table order, then the corp and runner backs.
func (a *Acquirer) All(ctx context.Context, root string, products []models.Product, backs []models.CardBack) (*Report, error) {
	report := &Report{}
	for _, p := range products {
		n, err := a.Product(ctx, root, p)
		if err != nil {
			return report, err
		}
		report.Products = append(report.Products, p.Code)
		report.CardsCut += n
	}

	for _, side := range []models.Side{models.SideCorp, models.SideRunner} {
		for _, b := range backs {
			if b.Side != side {
				continue
			}
			if err := a.Back(ctx, root, b); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}
