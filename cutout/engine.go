package cutout

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/pipeline"
	"github.com/aluiziolira/go-pnp-cards/tools"
)

// Stage directory names under a product directory.
const (
	CropDir = "crop"
	CutDir  = "cut"
)

// Engine runs the crop and cut stages of a product.
type Engine struct {
	Cropper pipeline.Cropper
	Guard   artifact.Guard
	Workers int
	Metrics *metrics.Metrics
}

// Cut produces {productDir}/cut/c-NNN.png from the product's extracted pages
// and returns the number of card images written in this run.
func (e *Engine) Cut(ctx context.Context, product models.Product, pages []models.ExtractedPage, productDir string) (int, error) {
	retained := Retain(pages, product.Retain)
	slog.Debug("retained pages",
		slog.String("product", product.Code),
		slog.Int("extracted", len(pages)),
		slog.Int("retained", len(retained)),
	)

	switch {
	case product.Grid != nil:
		return e.cutGrid(ctx, product, retained, productDir)
	case product.Shift != nil:
		return e.cutShift(ctx, product, retained, productDir)
	default:
		return 0, fmt.Errorf("product %s has no layout", product.Code)
	}
}

func (e *Engine) cutGrid(ctx context.Context, product models.Product, retained []models.ExtractedPage, productDir string) (int, error) {
	grid := product.Grid
	cropDir := filepath.Join(productDir, CropDir)

	_, err := e.stage(ctx, "crop", cropDir, func() ([]pipeline.Job, error) {
		jobs := make([]pipeline.Job, 0, len(retained))
		for i, page := range retained {
			jobs = append(jobs, pipeline.Job{
				Src:  page.Path,
				Dst:  filepath.Join(cropDir, models.CardFileName(i)),
				Rect: &grid.PageCrop,
			})
		}
		return jobs, nil
	})
	if err != nil {
		return 0, err
	}

	pagesOnDisk, err := tools.ListPages(cropDir)
	if err != nil {
		return 0, err
	}

	cutDir := filepath.Join(productDir, CutDir)
	n, err := e.stage(ctx, "cut", cutDir, func() ([]pipeline.Job, error) {
		return jobsFor(cutDir, GridPlan(pagesOnDisk, grid.Cells, grid.Offset)), nil
	})
	if err != nil {
		return 0, err
	}
	e.Metrics.AddCards(product.Code, n)
	return n, nil
}

func (e *Engine) cutShift(ctx context.Context, product models.Product, retained []models.ExtractedPage, productDir string) (int, error) {
	shift := product.Shift
	if len(retained) != shift.Length {
		slog.Warn("retained page count differs from numbering length",
			slog.String("product", product.Code),
			slog.Int("pages", len(retained)),
			slog.Int("length", shift.Length),
		)
	}

	cutDir := filepath.Join(productDir, CutDir)
	n, err := e.stage(ctx, "cut", cutDir, func() ([]pipeline.Job, error) {
		plan, err := ShiftPlan(retained, *shift)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", product.Code, err)
		}
		return jobsFor(cutDir, plan), nil
	})
	if err != nil {
		return 0, err
	}
	e.Metrics.AddCards(product.Code, n)
	return n, nil
}

const progressInterval = 5 * time.Second

// stage runs the planned jobs into dir unless dir is already complete, and
// returns how many files it wrote.
func (e *Engine) stage(ctx context.Context, name, dir string, plan func() ([]pipeline.Job, error)) (int, error) {
	done, err := e.Guard.Complete(dir)
	if err != nil {
		return 0, err
	}
	if done {
		slog.Info(name+" already generated, skipping", slog.String("path", dir))
		e.Metrics.IncStage(name, "skipped")
		return 0, nil
	}

	jobs, err := plan()
	if err != nil {
		return 0, err
	}
	if err := e.Guard.Begin(dir); err != nil {
		return 0, err
	}

	pool := pipeline.NewPool(ctx, e.Cropper)
	pool.Start(e.Workers)
	pool.StartProgressReporting(name, progressInterval)
	if err := pool.Process(jobs...); err != nil {
		_ = pool.Close()
		return 0, e.Guard.Abandon(dir, fmt.Errorf("%s stage: %w", name, err))
	}
	if err := pool.Close(); err != nil {
		return 0, e.Guard.Abandon(dir, fmt.Errorf("%s stage: %w", name, err))
	}

	if err := e.Guard.Finish(dir); err != nil {
		return 0, e.Guard.Abandon(dir, err)
	}
	slog.Info(name+" stage complete", slog.String("path", dir), slog.Int("files", len(jobs)))
	e.Metrics.IncStage(name, "built")
	return len(jobs), nil
}

func jobsFor(dir string, plan []Assignment) []pipeline.Job {
	jobs := make([]pipeline.Job, 0, len(plan))
	for _, a := range plan {
		jobs = append(jobs, pipeline.Job{
			Src:  a.Src,
			Dst:  filepath.Join(dir, models.CardFileName(a.Position)),
			Rect: a.Rect,
		})
	}
	return jobs
}
