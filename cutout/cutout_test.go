package cutout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aluiziolira/go-pnp-cards/artifact"
	"github.com/aluiziolira/go-pnp-cards/metrics"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/products"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touchCropper writes a small file for every crop so listings see it.
type touchCropper struct {
	mu    sync.Mutex
	calls int
}

func (c *touchCropper) Crop(_ context.Context, src, dst string, rect models.Rect) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return artifact.WriteFileAtomic(dst, []byte(src+"@"+rect.Geometry()))
}

func (c *touchCropper) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// failingCropper behaves like touchCropper but fails its failAt-th call.
type failingCropper struct {
	touchCropper
	failAt int
}

func (c *failingCropper) Crop(ctx context.Context, src, dst string, rect models.Rect) error {
	if c.count()+1 == c.failAt {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()
		return errors.New("convert: corrupt image")
	}
	return c.touchCropper.Crop(ctx, src, dst, rect)
}

func countCards(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "c-*.png"))
	require.NoError(t, err)
	return len(matches)
}

func pagesN(n int) []models.ExtractedPage {
	pages := make([]models.ExtractedPage, n)
	for i := range pages {
		pages[i] = models.ExtractedPage{Index: i, Path: fmt.Sprintf("x-%03d.png", i)}
	}
	return pages
}

func writePages(t *testing.T, dir string, n int) []models.ExtractedPage {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	pages := make([]models.ExtractedPage, n)
	for i := range pages {
		path := filepath.Join(dir, fmt.Sprintf("x-%03d.png", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("page %d", i)), 0o644))
		pages[i] = models.ExtractedPage{Index: i, Path: path}
	}
	return pages
}

func indices(pages []models.ExtractedPage) []int {
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.Index)
	}
	return out
}

func TestRetainSystemGateway(t *testing.T) {
	table, err := products.Default()
	require.NoError(t, err)
	sg, _ := table.Lookup("sg")

	kept := Retain(pagesN(30), sg.Retain)
	assert.Equal(t, []int{2, 4, 6, 8, 10, 12, 14, 16, 18, 24, 25, 26, 27, 28, 29}, indices(kept))
}

func TestRetainMidnightSunAndParhelion(t *testing.T) {
	table, err := products.Default()
	require.NoError(t, err)

	ms, _ := table.Lookup("ms")
	kept := Retain(pagesN(80), ms.Retain)
	require.Len(t, kept, 68)
	assert.Equal(t, 10, kept[0].Index)
	assert.Equal(t, 77, kept[len(kept)-1].Index)

	ph, _ := table.Lookup("ph")
	kept = Retain(pagesN(40), ph.Retain)
	assert.Len(t, kept, 35)
	for _, p := range kept {
		assert.False(t, p.Index >= 29 && p.Index <= 33, "page %d should be excluded", p.Index)
	}
}

func TestRetainIsOrderPreserving(t *testing.T) {
	pages := []models.ExtractedPage{{Index: 9}, {Index: 2}, {Index: 4}, {Index: 3}}
	kept := Retain(pages, models.RetentionRule{AlternateThrough: 5})
	assert.Equal(t, []int{9, 2, 4}, indices(kept))
}

func TestGridPlanIsContiguousBijection(t *testing.T) {
	table, err := products.Default()
	require.NoError(t, err)
	sg, ok := table.Lookup("sg")
	require.True(t, ok)
	cells := sg.Grid.Cells
	require.Len(t, cells, 9)

	for _, offset := range []int{0, 65} {
		for _, n := range []int{0, 1, 4, 11} {
			t.Run(fmt.Sprintf("offset=%d pages=%d", offset, n), func(t *testing.T) {
				plan := GridPlan(pagesN(n), cells, offset)
				require.Len(t, plan, n*9)
				positions := make([]int, 0, len(plan))
				for _, a := range plan {
					positions = append(positions, a.Position)
				}
				sort.Ints(positions)
				for i, pos := range positions {
					assert.Equal(t, 1+offset+i, pos)
				}
			})
		}
	}

	plan := GridPlan(pagesN(2), cells, 0)
	assert.Equal(t, "x-000.png", plan[0].Src)
	assert.Equal(t, "744x1031+0+0", plan[0].Rect.Geometry())
	assert.Equal(t, "x-001.png", plan[9].Src)
	assert.Equal(t, 10, plan[9].Position)
	assert.Equal(t, "744x1031+1489+2062", plan[17].Rect.Geometry())
}

func TestShiftPositionMidnightSun(t *testing.T) {
	s := models.ShiftLayout{Skip: 3, Shift: 1, Length: 68}
	assert.Equal(t, 66, ShiftPosition(0, s))
	assert.Equal(t, 67, ShiftPosition(1, s))
	assert.Equal(t, 68, ShiftPosition(2, s))
	assert.Equal(t, 1, ShiftPosition(3, s))
	assert.Equal(t, 65, ShiftPosition(67, s))

	plan, err := ShiftPlan(pagesN(68), s)
	require.NoError(t, err)
	positions := make([]int, 0, len(plan))
	for _, a := range plan {
		positions = append(positions, a.Position)
		assert.Nil(t, a.Rect)
	}
	sort.Ints(positions)
	for i, pos := range positions {
		assert.Equal(t, i+1, pos)
	}
}

func TestShiftPositionParhelion(t *testing.T) {
	s := models.ShiftLayout{Skip: 0, Shift: 66, Length: 63}
	assert.Equal(t, 66, ShiftPosition(0, s))
	assert.Equal(t, 128, ShiftPosition(62, s))
}

func TestShiftPlanRejectsCollisions(t *testing.T) {
	_, err := ShiftPlan(pagesN(5), models.ShiftLayout{Skip: 2, Shift: 0, Length: 3})
	assert.Error(t, err)
}

func TestEngineGridStagesAndResume(t *testing.T) {
	root := t.TempDir()
	productDir := filepath.Join(root, "rwr")
	pages := writePages(t, filepath.Join(productDir, "extract"), 4)

	product := models.Product{
		Code:   "rwr",
		Retain: models.RetentionRule{Exclude: []int{0}},
		Grid: &models.GridLayout{
			PageCrop: models.Rect{Width: 20, Height: 30, Left: 1, Top: 1},
			Cells: []models.Rect{
				{Width: 10, Height: 30, Left: 0, Top: 0},
				{Width: 10, Height: 30, Left: 10, Top: 0},
			},
			Offset: 65,
		},
	}

	cropper := &touchCropper{}
	m := metrics.New()
	engine := &Engine{Cropper: cropper, Workers: 3, Metrics: m}

	n, err := engine.Cut(context.Background(), product, pages, productDir)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 3+6, cropper.count())

	for i := 0; i < 3; i++ {
		assert.FileExists(t, filepath.Join(productDir, CropDir, models.CardFileName(i)))
	}
	for pos := 66; pos <= 71; pos++ {
		assert.FileExists(t, filepath.Join(productDir, CutDir, models.CardFileName(pos)))
	}
	data, err := os.ReadFile(filepath.Join(productDir, CutDir, models.CardFileName(68)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(productDir, CropDir, "c-001.png")+"@10x30+0+0", string(data))

	n, err = engine.Cut(context.Background(), product, pages, productDir)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 9, cropper.count(), "a complete run must not invoke the cropper again")

	snap := m.Snapshot()
	assert.Equal(t, 6.0, snap["pnp_cards_cut_total{product=rwr}"])
	assert.Equal(t, 2.0, snap["pnp_stage_runs_total{outcome=skipped}"])
}

func TestEngineShiftCopies(t *testing.T) {
	root := t.TempDir()
	productDir := filepath.Join(root, "ms")
	pages := writePages(t, filepath.Join(productDir, "extract"), 6)

	product := models.Product{
		Code:   "ms",
		Retain: models.RetentionRule{Exclude: []int{0}},
		Shift:  &models.ShiftLayout{Skip: 2, Shift: 1, Length: 5},
	}
	cropper := &touchCropper{}
	engine := &Engine{Cropper: cropper, Guard: artifact.Guard{Strict: true}, Workers: 1}

	n, err := engine.Cut(context.Background(), product, pages, productDir)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, cropper.count(), "shift layouts copy pages")

	want := map[int]string{4: "page 1", 5: "page 2", 1: "page 3", 2: "page 4", 3: "page 5"}
	for pos, content := range want {
		data, err := os.ReadFile(filepath.Join(productDir, CutDir, models.CardFileName(pos)))
		require.NoError(t, err)
		assert.Equal(t, content, string(data), "position %d", pos)
	}
	assert.FileExists(t, filepath.Join(productDir, CutDir, artifact.MarkerName))
}

func TestEngineStrictRebuildsPartialCut(t *testing.T) {
	root := t.TempDir()
	productDir := filepath.Join(root, "ph")
	pages := writePages(t, filepath.Join(productDir, "extract"), 3)
	cutDir := filepath.Join(productDir, CutDir)
	require.NoError(t, os.MkdirAll(cutDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cutDir, "c-999.png"), nil, 0o644))

	product := models.Product{Code: "ph", Shift: &models.ShiftLayout{Skip: 0, Shift: 66, Length: 3}}
	engine := &Engine{Cropper: &touchCropper{}, Guard: artifact.Guard{Strict: true}, Workers: 2}

	n, err := engine.Cut(context.Background(), product, pages, productDir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoFileExists(t, filepath.Join(cutDir, "c-999.png"))
	assert.FileExists(t, filepath.Join(cutDir, "c-068.png"))
}

func TestEngineRerunRebuildsFailedStage(t *testing.T) {
	product := models.Product{
		Code: "tai",
		Grid: &models.GridLayout{
			PageCrop: models.Rect{Width: 20, Height: 30},
			Cells: []models.Rect{
				{Width: 10, Height: 30, Left: 0, Top: 0},
				{Width: 10, Height: 30, Left: 10, Top: 0},
			},
		},
	}

	tests := []struct {
		name       string
		failAt     int
		cropExists bool
	}{
		{name: "crop stage", failAt: 3, cropExists: false},
		{name: "cut stage", failAt: 6, cropExists: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			productDir := filepath.Join(t.TempDir(), "tai")
			pages := writePages(t, filepath.Join(productDir, "extract"), 4)
			cropDir := filepath.Join(productDir, CropDir)
			cutDir := filepath.Join(productDir, CutDir)

			broken := &Engine{Cropper: &failingCropper{failAt: tt.failAt}, Workers: 1}
			_, err := broken.Cut(context.Background(), product, pages, productDir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "corrupt image")

			if tt.cropExists {
				assert.Equal(t, 4, countCards(t, cropDir))
			} else {
				assert.NoDirExists(t, cropDir)
			}
			assert.NoDirExists(t, cutDir)

			engine := &Engine{Cropper: &touchCropper{}, Workers: 1}
			n, err := engine.Cut(context.Background(), product, pages, productDir)
			require.NoError(t, err)
			assert.Equal(t, 8, n)
			assert.Equal(t, 4, countCards(t, cropDir))
			assert.Equal(t, 8, countCards(t, cutDir))
		})
	}
}
