package compose

import "github.com/aluiziolira/go-pnp-cards/models"

// Columns is the mosaic row width expected by the tabletop deck importer.
const Columns = 10

// Grid holds mosaic rows of image paths.
type Grid [][]string

// BuildGrid lays the deck's cards out in rows of Columns, padding the last
// row with the side's back image. It has ceil(N/Columns) rows.
func BuildGrid(deck *models.ResolvedDeck, root string) Grid {
	cards := deck.Flatten()
	grid := make(Grid, 0, (len(cards)+Columns-1)/Columns)
	for start := 0; start < len(cards); start += Columns {
		end := min(start+Columns, len(cards))
		row := make([]string, 0, Columns)
		for _, ref := range cards[start:end] {
			row = append(row, ref.Path(root))
		}
		grid = append(grid, row)
	}

	if n := len(grid); n > 0 {
		back := models.BackPath(root, deck.Side)
		for len(grid[n-1]) < Columns {
			grid[n-1] = append(grid[n-1], back)
		}
	}
	return grid
}

// Rows returns the number of rows.
func (g Grid) Rows() int {
	return len(g)
}
