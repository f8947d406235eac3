// Package cutout turns rasterized pages into individually numbered card
// images following each product's retention and layout rules.
package cutout

import (
	"fmt"

	"github.com/aluiziolira/go-pnp-cards/models"
)

// Assignment maps one source image (and optional region) to a card position.
type Assignment struct {
	Src      string
	Position int
	// Rect is nil when the whole source image is the card.
	Rect *models.Rect
}

// Excluded reports whether the rule discards the page at idx.
func Excluded(idx int, rule models.RetentionRule) bool {
	for _, ex := range rule.Exclude {
		if ex == idx {
			return true
		}
	}
	for _, r := range rule.ExcludeRanges {
		if r.Contains(idx) {
			return true
		}
	}
	return idx >= 1 && idx <= rule.AlternateThrough && idx%2 == 1
}

// Retain filters pages by rule, keeping their order.
func Retain(pages []models.ExtractedPage, rule models.RetentionRule) []models.ExtractedPage {
	kept := make([]models.ExtractedPage, 0, len(pages))
	for _, p := range pages {
		if Excluded(p.Index, rule) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// GridPlan slices every page into the layout's cells. Positions run from
// 1+offset upwards, page by page and cell by cell.
func GridPlan(pages []models.ExtractedPage, cells []models.Rect, offset int) []Assignment {
	plan := make([]Assignment, 0, len(pages)*len(cells))
	position := 1 + offset
	for _, page := range pages {
		for i := range cells {
			plan = append(plan, Assignment{
				Src:      page.Path,
				Position: position,
				Rect:     &cells[i],
			})
			position++
		}
	}
	return plan
}

// ShiftPosition numbers the i-th retained page of a shift layout. The first
// Skip pages wrap to the end of the range.
func ShiftPosition(i int, s models.ShiftLayout) int {
	if i < s.Skip {
		return s.Length - s.Skip + i + s.Shift
	}
	return i - s.Skip + s.Shift
}

// ShiftPlan assigns one position per page. It fails when two pages would
// share a position, which happens once the page count exceeds Length.
func ShiftPlan(pages []models.ExtractedPage, s models.ShiftLayout) ([]Assignment, error) {
	plan := make([]Assignment, 0, len(pages))
	seen := make(map[int]string, len(pages))
	for i, page := range pages {
		pos := ShiftPosition(i, s)
		if prev, dup := seen[pos]; dup {
			return nil, fmt.Errorf("pages %s and %s both map to position %d", prev, page.Path, pos)
		}
		seen[pos] = page.Path
		plan = append(plan, Assignment{Src: page.Path, Position: pos})
	}
	return plan, nil
}
