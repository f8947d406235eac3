// Package deck resolves decklist identifiers into ordered card images.
package deck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-pnp-cards/models"
	"github.com/aluiziolira/go-pnp-cards/parser"
)

// JSONSource returns the JSON document stored under a URL.
type JSONSource interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
}

// Resolver looks decklists and cards up through a JSON source, normally the
// content-addressed cache.
type Resolver struct {
	base   string
	source JSONSource
}

// NewResolver builds a resolver for the API rooted at base.
func NewResolver(base string, source JSONSource) *Resolver {
	return &Resolver{
		base:   strings.TrimSuffix(base, "/"),
		source: source,
	}
}

// DeckURL returns the decklist endpoint for id.
func (r *Resolver) DeckURL(id string) string {
	return r.base + "/public/deck/" + url.PathEscape(id)
}

// CardURL returns the card endpoint for id.
func (r *Resolver) CardURL(id string) string {
	return r.base + "/public/card/" + url.PathEscape(id)
}

// Resolve returns the deck's cards in decklist order. The deck side is the
// side of its first card.
func (r *Resolver) Resolve(ctx context.Context, id string) (*models.ResolvedDeck, error) {
	subject := "deck " + id
	raw, err := r.source.Get(ctx, r.DeckURL(id))
	if err != nil {
		return nil, err
	}
	cards, err := parser.ParseDeck(subject, raw)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, &parser.ResolutionError{Subject: subject, Field: "cards", Err: errors.New("deck has no cards")}
	}

	deck := &models.ResolvedDeck{ID: id, Entries: make([]models.DeckEntry, 0, len(cards))}
	for i, c := range cards {
		info, err := r.card(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			deck.Side = info.Side
		} else if info.Side != deck.Side {
			slog.Warn("card side differs from deck side",
				slog.String("deck", id),
				slog.String("card", c.ID),
				slog.String("card_side", string(info.Side)),
				slog.String("deck_side", string(deck.Side)),
			)
		}
		deck.Entries = append(deck.Entries, models.DeckEntry{
			CardID: c.ID,
			Card:   models.CardRef{Pack: info.Pack, Position: info.Position},
			Count:  c.Count,
		})
	}

	slog.Info("resolved deck",
		slog.String("deck", id),
		slog.String("side", string(deck.Side)),
		slog.Int("cards", deck.Total()),
	)
	return deck, nil
}

func (r *Resolver) card(ctx context.Context, id string) (parser.CardInfo, error) {
	raw, err := r.source.Get(ctx, r.CardURL(id))
	if err != nil {
		return parser.CardInfo{}, err
	}
	return parser.ParseCard("card "+id, raw)
}
