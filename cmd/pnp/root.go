package main

import (
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/products"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// productFlags maps URL override flags to product codes.
var productFlags = []struct {
	flag, code, usage string
}{
	{"sg", "sg", "System Gateway printable sheets URL"},
	{"su", "su21", "System Update 2021 printable sheets URL"},
	{"tai", "tai", "The Automata Initiative printable sheets URL"},
	{"rwr", "rwr", "Rebellion Without Rehearsal printable sheets URL"},
	{"ph", "ph", "Parhelion printable sheets URL"},
	{"ms", "ms", "Midnight Sun printable sheets URL"},
}

// envFlags are the flags that PNP_* variables may supply.
var envFlags = []string{"api-base", "products", "image-tool", "metrics-addr", "workers", "strict-stages"}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	overrides := make(map[string]*string, len(productFlags))

	cmd := &cobra.Command{
		Use:   "pnp <card-dir>",
		Short: "Cut print-and-play sheets into card images and compose decks",
		Long: `pnp downloads the print-and-play sheets of every product, cuts them into
numbered card images under <card-dir>, and composes printable A4 documents
(--deck) and tabletop mosaic sheets (--tts) from decklists.

Every stage is resumable: rerunning skips work whose output already exists.`,
		Args: cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return applyEnv(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.CardDir = args[0]
			for code, value := range overrides {
				if *value != "" {
					cfg.ProductURLs[code] = *value
				}
			}

			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())

			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", slog.Any("error", err))
				return err
			}

			result, err := run(cmd.Context(), cfg)
			if err != nil {
				slog.Error("run failed", slog.Any("error", err))
				return err
			}
			printSummary(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	for _, pf := range productFlags {
		overrides[pf.code] = flags.String(pf.flag, "", pf.usage)
	}
	flags.StringVar(&cfg.CorpBack, "corp-back", cfg.CorpBack, "Corp card back image URL")
	flags.StringVar(&cfg.RunnerBack, "runner-back", cfg.RunnerBack, "Runner card back image URL")
	flags.StringArrayVarP(&cfg.Decks, "deck", "d", nil, "Decklist ID to include in the printable document (repeatable)")
	flags.StringArrayVarP(&cfg.TTS, "tts", "t", nil, "Decklist ID to build a tabletop mosaic for (repeatable)")
	flags.BoolVar(&cfg.IncludeBasicActions, "include-basic-actions", false, "Append the basic action cards to the document")
	flags.BoolVar(&cfg.IncludeMarks, "include-marks", false, "Append the mark cards to the document")

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&cfg.APIBase, "api-base", cfg.APIBase, "Card database API base URL (env PNP_API_BASE)")
	persistent.StringVar(&cfg.ProductsFile, "products", "", "YAML product table replacing the built-in one (env PNP_PRODUCTS_FILE)")
	persistent.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent crop workers per stage (env PNP_WORKERS)")
	persistent.StringVar(&cfg.ImageTool, "image-tool", cfg.ImageTool, "Crop/append backend: native or magick (env PNP_IMAGE_TOOL)")
	persistent.StringVar(&cfg.RasterizerBin, "pdfimages", cfg.RasterizerBin, "pdfimages binary")
	persistent.StringVar(&cfg.MagickBin, "magick", cfg.MagickBin, "ImageMagick binary for --image-tool magick")
	persistent.BoolVar(&cfg.StrictStages, "strict-stages", cfg.StrictStages, "Only trust stage directories carrying a completion marker (env PNP_STRICT_STAGES)")
	persistent.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout, 0 for none")
	persistent.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Prometheus metrics listen address, e.g. :9090 (env PNP_METRICS_ADDR)")
	persistent.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newProductsCmd(cfg))
	return cmd
}

// applyEnv fills cfg from PNP_* variables without overriding explicit flags.
func applyEnv(cmd *cobra.Command, cfg *config.Config) error {
	flagged := *cfg
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	for _, name := range envFlags {
		if !cmd.Flags().Changed(name) {
			continue
		}
		switch name {
		case "api-base":
			cfg.APIBase = flagged.APIBase
		case "products":
			cfg.ProductsFile = flagged.ProductsFile
		case "image-tool":
			cfg.ImageTool = flagged.ImageTool
		case "metrics-addr":
			cfg.MetricsAddr = flagged.MetricsAddr
		case "workers":
			cfg.Workers = flagged.Workers
		case "strict-stages":
			cfg.StrictStages = flagged.StrictStages
		}
	}
	return nil
}

func newProductsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "Print the effective product table as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(cfg)
			if err != nil {
				return err
			}
			data, err := table.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// loadTable returns the product table with URL overrides applied.
func loadTable(cfg *config.Config) (*products.Table, error) {
	var (
		table *products.Table
		err   error
	)
	if cfg.ProductsFile != "" {
		table, err = products.Load(cfg.ProductsFile)
	} else {
		table, err = products.Default()
	}
	if err != nil {
		return nil, err
	}

	for code, url := range cfg.ProductURLs {
		if err := table.WithURL(code, url); err != nil {
			return nil, err
		}
	}
	// A custom table keeps its own backs unless a back URL was overridden.
	defaults := config.DefaultConfig()
	if cfg.ProductsFile == "" || cfg.CorpBack != defaults.CorpBack {
		if err := table.WithBackURL(models.SideCorp, cfg.CorpBack); err != nil {
			return nil, err
		}
	}
	if cfg.ProductsFile == "" || cfg.RunnerBack != defaults.RunnerBack {
		if err := table.WithBackURL(models.SideRunner, cfg.RunnerBack); err != nil {
			return nil, err
		}
	}
	return table, nil
}
