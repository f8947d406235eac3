package deck

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aluiziolira/go-pnp-cards/cache"
	"github.com/aluiziolira/go-pnp-cards/config"
	"github.com/aluiziolira/go-pnp-cards/fetcher"
	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/parser"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiBase = "https://api.example.test/api/2.0"

func newResolver(t *testing.T) (*Resolver, *httpmock.MockTransport) {
	t.Helper()
	f := fetcher.New(config.DefaultConfig(), nil)
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	c, err := cache.New(t.TempDir(), f, 16, nil)
	require.NoError(t, err)
	return NewResolver(apiBase+"/", c), transport
}

func card(pack string, position int, side string) string {
	return `{"data":[{"pack_code":"` + pack + `","position":` + strconv.Itoa(position) + `,"side_code":"` + side + `"}]}`
}

func TestResolveOrdersAndCounts(t *testing.T) {
	r, transport := newResolver(t)
	transport.RegisterResponder("GET", apiBase+"/public/deck/777",
		httpmock.NewStringResponder(200, `{"data":[{"cards":{"30076":1,"30010":3,"31004":2}}]}`))
	transport.RegisterResponder("GET", apiBase+"/public/card/30076", httpmock.NewStringResponder(200, card("sg", 76, "runner")))
	transport.RegisterResponder("GET", apiBase+"/public/card/30010", httpmock.NewStringResponder(200, card("sg", 10, "runner")))
	transport.RegisterResponder("GET", apiBase+"/public/card/31004", httpmock.NewStringResponder(200, card("su21", 4, "runner")))

	deck, err := r.Resolve(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, models.SideRunner, deck.Side)
	assert.Equal(t, 6, deck.Total())
	assert.Equal(t, []models.CardRef{
		{Pack: "sg", Position: 76},
		{Pack: "sg", Position: 10},
		{Pack: "sg", Position: 10},
		{Pack: "sg", Position: 10},
		{Pack: "su21", Position: 4},
		{Pack: "su21", Position: 4},
	}, deck.Flatten())

	// Second resolution is served entirely from the cache.
	_, err = r.Resolve(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, 4, transport.GetTotalCallCount())
}

func TestResolveMixedSidesKeepsFirst(t *testing.T) {
	r, transport := newResolver(t)
	transport.RegisterResponder("GET", apiBase+"/public/deck/9",
		httpmock.NewStringResponder(200, `{"data":[{"cards":{"a":1,"b":1}}]}`))
	transport.RegisterResponder("GET", apiBase+"/public/card/a", httpmock.NewStringResponder(200, card("sg", 1, "corp")))
	transport.RegisterResponder("GET", apiBase+"/public/card/b", httpmock.NewStringResponder(200, card("sg", 2, "runner")))

	deck, err := r.Resolve(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, models.SideCorp, deck.Side)
	assert.Len(t, deck.Entries, 2)
}

func TestResolveEmptyDeck(t *testing.T) {
	r, transport := newResolver(t)
	transport.RegisterResponder("GET", apiBase+"/public/deck/0",
		httpmock.NewStringResponder(200, `{"data":[{"cards":{}}]}`))

	_, err := r.Resolve(context.Background(), "0")
	var resErr *parser.ResolutionError
	require.ErrorAs(t, err, &resErr)
}

func TestResolveCardLookupFailure(t *testing.T) {
	r, transport := newResolver(t)
	transport.RegisterResponder("GET", apiBase+"/public/deck/5",
		httpmock.NewStringResponder(200, `{"data":[{"cards":{"x":1}}]}`))
	transport.RegisterResponder("GET", apiBase+"/public/card/x", httpmock.NewStringResponder(404, ""))

	_, err := r.Resolve(context.Background(), "5")
	var tErr *fetcher.TransportError
	require.True(t, errors.As(err, &tErr), "got %v", err)
	assert.Equal(t, 404, tErr.StatusCode)
}

func TestURLs(t *testing.T) {
	r := NewResolver("https://netrunnerdb.com/api/2.0", nil)
	assert.Equal(t, "https://netrunnerdb.com/api/2.0/public/deck/abc", r.DeckURL("abc"))
	assert.Equal(t, "https://netrunnerdb.com/api/2.0/public/card/01001", r.CardURL("01001"))
}
