package config

import (
	"fmt"
	"net/url"
	"time"
)

// Image tool backends.
const (
	ImageToolNative = "native"
	ImageToolMagick = "magick"
)

// Config holds pipeline configuration.
type Config struct {
	CardDir      string
	APIBase      string
	ProductsFile string
	// ProductURLs overrides the source document of a product, keyed by product code.
	ProductURLs map[string]string
	CorpBack    string
	RunnerBack  string

	Decks               []string
	TTS                 []string
	IncludeBasicActions bool
	IncludeMarks        bool

	Workers       int
	ImageTool     string
	RasterizerBin string
	MagickBin     string
	StrictStages  bool
	Timeout       time.Duration
	CacheEntries  int
	UserAgent     string
	MetricsAddr   string
	Verbose       bool
}

// DefaultConfig returns defaults matching the public print-and-play sources.
func DefaultConfig() *Config {
	return &Config{
		APIBase:       "https://netrunnerdb.com/api/2.0",
		ProductURLs:   map[string]string{},
		CorpBack:      "https://i.imgur.com/oEKGtj4.png",
		RunnerBack:    "https://i.imgur.com/UfL0Y0C.png",
		Workers:       1,
		ImageTool:     ImageToolNative,
		RasterizerBin: "pdfimages",
		MagickBin:     "magick",
		StrictStages:  false,
		Timeout:       0,
		CacheEntries:  1024,
		UserAgent:     "go-pnp-cards/0.1 (+https://github.com/aluiziolira/go-pnp-cards)",
		Verbose:       false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.CardDir == "" {
		return fmt.Errorf("card directory cannot be empty")
	}

	if c.APIBase == "" {
		return fmt.Errorf("api base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.APIBase)
	if err != nil {
		return fmt.Errorf("invalid api base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("api base URL must include a host")
	}

	for code, raw := range c.ProductURLs {
		if err := validateSourceURL(raw); err != nil {
			return fmt.Errorf("product %s: %w", code, err)
		}
	}
	if err := validateSourceURL(c.CorpBack); err != nil {
		return fmt.Errorf("corp back: %w", err)
	}
	if err := validateSourceURL(c.RunnerBack); err != nil {
		return fmt.Errorf("runner back: %w", err)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.ImageTool != ImageToolNative && c.ImageTool != ImageToolMagick {
		return fmt.Errorf("image tool must be %s or %s", ImageToolNative, ImageToolMagick)
	}
	if c.RasterizerBin == "" {
		return fmt.Errorf("rasterizer binary cannot be empty")
	}
	if c.ImageTool == ImageToolMagick && c.MagickBin == "" {
		return fmt.Errorf("magick binary cannot be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.CacheEntries <= 0 {
		return fmt.Errorf("cache entries must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// WantsDocument reports whether a printable document was requested.
func (c *Config) WantsDocument() bool {
	return len(c.Decks) > 0 || c.IncludeBasicActions || c.IncludeMarks
}

func validateSourceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("source URL cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("source URL %q must be http or https", raw)
	}
	return nil
}
