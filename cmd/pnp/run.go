package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aluiziolira/go-pnp-cards/acquire"
	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/cache"
	"github.com/aluiziolira/go-pnp-cards/compose"
	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/cutout"
	"github.com/aluiziolira/go-pnp-cards/deck"
	"github.com/aluiziolira/go-pnp-cards/fetcher"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/pipeline"
	"github.com/aluiziolira/go-pnp-cards/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// run acquires every product and back, then builds the requested document
// and mosaics. The first error aborts the run.
func run(ctx context.Context, cfg *config.Config) (*models.RunResult, error) {
	result := &models.RunResult{StartTime: time.Now()}

	table, err := loadTable(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, m)
		defer stop()
	}

	slog.Info("starting run",
		slog.String("card_dir", cfg.CardDir),
		slog.Int("products", len(table.Products)),
		slog.Int("workers", cfg.Workers),
		slog.String("image_tool", cfg.ImageTool),
		slog.Bool("strict_stages", cfg.StrictStages),
	)

	if err := artifact.EnsureDir(cfg.CardDir); err != nil {
		return nil, err
	}

	runner := tools.ExecRunner{}
	images, err := tools.NewImageTool(cfg.ImageTool, cfg.MagickBin, runner, m)
	if err != nil {
		return nil, err
	}
	guard := artifact.Guard{Strict: cfg.StrictStages}
	f := fetcher.New(cfg, m)

	acquirer := &acquire.Acquirer{
		Downloader: f,
		Rasterizer: &tools.Rasterizer{Bin: cfg.RasterizerBin, Runner: runner, Guard: guard, Metrics: m},
		Cutter:     &cutout.Engine{Cropper: images, Guard: guard, Workers: cfg.Workers, Metrics: m},
		Images:     images,
	}
	report, err := acquirer.All(ctx, cfg.CardDir, table.Products, table.Backs)
	if err != nil {
		return nil, err
	}
	result.Products = report.Products
	result.CardsCut = report.CardsCut

	if cfg.WantsDocument() || len(cfg.TTS) > 0 {
		store, err := cache.New(cfg.CardDir, f, cfg.CacheEntries, m)
		if err != nil {
			return nil, err
		}
		resolver := deck.NewResolver(cfg.APIBase, store)

		if cfg.WantsDocument() {
			docs := &compose.Documents{Resolver: resolver, Metrics: m}
			path, err := docs.Build(ctx, cfg.CardDir, cfg.Decks, compose.Supplements{
				BasicActions: cfg.IncludeBasicActions,
				Marks:        cfg.IncludeMarks,
			})
			if err != nil {
				return nil, err
			}
			result.Document = path
		}

		mosaics := &compose.Mosaics{Resolver: resolver, Images: images, Metrics: m}
		for _, id := range cfg.TTS {
			path, err := mosaics.Build(ctx, cfg.CardDir, id)
			if err != nil {
				return nil, err
			}
			result.Mosaics = append(result.Mosaics, path)
		}
	}

	result.EndTime = time.Now()
	fillCounters(result, m.Snapshot())
	if err := pipeline.AppendRunLog(cfg.CardDir, result); err != nil {
		slog.Warn("run log not written", slog.Any("error", err))
	}
	return result, nil
}

func fillCounters(result *models.RunResult, snap map[string]float64) {
	result.Requests = int(snap["pnp_http_requests_total"])
	result.CacheHits = int(snap["pnp_cache_lookups_total{result=memory}"] + snap["pnp_cache_lookups_total{result=disk}"])
	result.CacheMiss = int(snap["pnp_cache_lookups_total{result=miss}"])
	result.ToolCalls = int(snap["pnp_tool_invocations_total"])
	result.StagesRun = int(snap["pnp_stage_runs_total{outcome=built}"])
	result.StagesSkip = int(snap["pnp_stage_runs_total{outcome=skipped}"])
}

// serveMetrics exposes the registry over HTTP until the returned func is called.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, result *models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Run complete")
	fmt.Fprintf(w, "  Products:      %s\n", strings.Join(result.Products, ", "))
	fmt.Fprintf(w, "  Cards cut:     %d\n", result.CardsCut)
	fmt.Fprintf(w, "  Stages:        %d built, %d skipped\n", result.StagesRun, result.StagesSkip)
	fmt.Fprintf(w, "  Tool calls:    %d\n", result.ToolCalls)
	fmt.Fprintf(w, "  Requests:      %d\n", result.Requests)
	fmt.Fprintf(w, "  Cache:         %d hits, %d misses\n", result.CacheHits, result.CacheMiss)
	if result.Document != "" {
		fmt.Fprintf(w, "  Document:      %s\n", result.Document)
	}
	for _, path := range result.Mosaics {
		fmt.Fprintf(w, "  Mosaic:        %s\n", path)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", result.Duration().Round(time.Millisecond))
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
