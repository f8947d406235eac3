package tools

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/disintegration/imaging"

	// Card backs may be served as WebP.
	_ "golang.org/x/image/webp"
)

// Orientation selects the append direction.
type Orientation int

const (
	// Horizontal places images left to right.
	Horizontal Orientation = iota
	// Vertical places images top to bottom.
	Vertical
)

func (o Orientation) String() string {
	if o == Vertical {
		return "vertical"
	}
	return "horizontal"
}

// ImageTool crops and appends image files.
type ImageTool interface {
	Crop(ctx context.Context, src, dst string, rect models.Rect) error
	Append(ctx context.Context, first, second, dst string, o Orientation) error
}

// NewImageTool returns the backend named by kind.
func NewImageTool(kind, magickBin string, runner Runner, m *metrics.Metrics) (ImageTool, error) {
	switch kind {
	case config.ImageToolNative, "":
		return &NativeImageTool{Metrics: m}, nil
	case config.ImageToolMagick:
		if runner == nil {
			runner = ExecRunner{}
		}
		return &MagickImageTool{Bin: magickBin, Runner: runner, Metrics: m}, nil
	default:
		return nil, fmt.Errorf("unknown image tool %q", kind)
	}
}

// NativeImageTool implements ImageTool in-process with imaging.
type NativeImageTool struct {
	Metrics *metrics.Metrics
}

// Crop writes the rect region of src to dst. Regions past the image edge
// are clipped.
func (t *NativeImageTool) Crop(ctx context.Context, src, dst string, rect models.Rect) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Metrics.IncTool(config.ImageToolNative, "crop")
	img, err := imaging.Open(src)
	if err != nil {
		return &artifact.IOError{Op: "decode", Path: src, Err: err}
	}
	bounds := image.Rect(rect.Left, rect.Top, rect.Left+rect.Width, rect.Top+rect.Height)
	if !bounds.Overlaps(img.Bounds()) {
		return fmt.Errorf("crop %s lies outside %s (%dx%d)", rect.Geometry(), src, img.Bounds().Dx(), img.Bounds().Dy())
	}
	return save(dst, imaging.Crop(img, bounds))
}

// Append joins first and second into dst. Images are aligned to the top
// left corner and the uncovered area is white.
func (t *NativeImageTool) Append(ctx context.Context, first, second, dst string, o Orientation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Metrics.IncTool(config.ImageToolNative, "append")
	a, err := imaging.Open(first)
	if err != nil {
		return &artifact.IOError{Op: "decode", Path: first, Err: err}
	}
	b, err := imaging.Open(second)
	if err != nil {
		return &artifact.IOError{Op: "decode", Path: second, Err: err}
	}

	ab, bb := a.Bounds(), b.Bounds()
	var canvas *image.NRGBA
	var at image.Point
	if o == Vertical {
		canvas = imaging.New(max(ab.Dx(), bb.Dx()), ab.Dy()+bb.Dy(), color.White)
		at = image.Pt(0, ab.Dy())
	} else {
		canvas = imaging.New(ab.Dx()+bb.Dx(), max(ab.Dy(), bb.Dy()), color.White)
		at = image.Pt(ab.Dx(), 0)
	}
	canvas = imaging.Paste(canvas, a, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, b, at)
	return save(dst, canvas)
}

func save(dst string, img image.Image) error {
	format, err := imaging.FormatFromFilename(dst)
	if err != nil {
		format = imaging.PNG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return &artifact.IOError{Op: "encode", Path: dst, Err: err}
	}
	return artifact.WriteFileAtomic(dst, buf.Bytes())
}

// MagickImageTool implements ImageTool by shelling out to ImageMagick.
type MagickImageTool struct {
	Bin     string
	Runner  Runner
	Metrics *metrics.Metrics
}

// Crop runs `magick convert src -crop WxH+L+T +repage dst`.
func (t *MagickImageTool) Crop(ctx context.Context, src, dst string, rect models.Rect) error {
	if err := artifact.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	t.Metrics.IncTool(filepath.Base(t.Bin), "crop")
	_, err := t.Runner.Run(ctx, t.Bin, "convert", src, "-crop", rect.Geometry(), "+repage", dst)
	return err
}

// Append runs `magick convert +append|-append first second dst`.
func (t *MagickImageTool) Append(ctx context.Context, first, second, dst string, o Orientation) error {
	if err := artifact.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	flag := "+append"
	if o == Vertical {
		flag = "-append"
	}
	t.Metrics.IncTool(filepath.Base(t.Bin), "append")
	_, err := t.Runner.Run(ctx, t.Bin, "convert", flag, first, second, dst)
	return err
}
