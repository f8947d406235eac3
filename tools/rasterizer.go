package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
)

// pagePrefix is the file prefix handed to pdfimages; output is x-NNN.png.
const pagePrefix = "x"

var pageName = regexp.MustCompile(`^[xc]-(\d+)\.[A-Za-z0-9]+$`)

// Rasterizer extracts the embedded page images of a PDF with pdfimages.
type Rasterizer struct {
	Bin     string
	Runner  Runner
	Guard   artifact.Guard
	Metrics *metrics.Metrics
}

// Rasterize writes the page images of pdf into outDir and lists them in page
// order. An already complete outDir is listed without running the tool.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf, outDir string) ([]models.ExtractedPage, error) {
	done, err := r.Guard.Complete(outDir)
	if err != nil {
		return nil, err
	}
	if done {
		slog.Info("already extracted, skipping", slog.String("path", outDir))
		r.Metrics.IncStage("extract", "skipped")
		return ListPages(outDir)
	}

	if err := r.Guard.Begin(outDir); err != nil {
		return nil, err
	}
	slog.Info("extracting pages", slog.String("pdf", pdf), slog.String("path", outDir))
	r.Metrics.IncTool(filepath.Base(r.Bin), "rasterize")
	if _, err := r.Runner.Run(ctx, r.Bin, "-png", pdf, filepath.Join(outDir, pagePrefix)); err != nil {
		return nil, r.Guard.Abandon(outDir, err)
	}
	if err := r.Guard.Finish(outDir); err != nil {
		return nil, r.Guard.Abandon(outDir, err)
	}
	r.Metrics.IncStage("extract", "built")
	return ListPages(outDir)
}

// ListPages returns the numbered images in dir (x-NNN or c-NNN) sorted by
// their parsed index. Other entries are ignored.
func ListPages(dir string) ([]models.ExtractedPage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &artifact.IOError{Op: "readdir", Path: dir, Err: err}
	}

	pages := make([]models.ExtractedPage, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageName.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("parse page index of %s: %w", entry.Name(), err)
		}
		pages = append(pages, models.ExtractedPage{Index: idx, Path: filepath.Join(dir, entry.Name())})
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})
	return pages, nil
}
