// Package parser decodes decklist and card metadata documents.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aluiziolira/go-pnp-cards/models"
)

// ResolutionError reports metadata that lacks a field the pipeline needs.
type ResolutionError struct {
	Subject string
	Field   string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("resolve %s: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("resolve %s: field %s: %v", e.Subject, e.Field, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// DeckCard is one slot of a decklist before card lookup.
type DeckCard struct {
	ID    string
	Count int
}

// CardInfo is the part of a card record the pipeline uses.
type CardInfo struct {
	Pack     string
	Position int
	Side     models.Side
}

type envelope struct {
	Data []json.RawMessage `json:"data"`
}

func firstRecord(subject string, raw []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ResolutionError{Subject: subject, Err: err}
	}
	if len(env.Data) == 0 {
		return nil, &ResolutionError{Subject: subject, Field: "data", Err: errors.New("no records")}
	}
	return env.Data[0], nil
}

// ParseDeck returns the cards of a decklist document in the order the
// document lists them.
func ParseDeck(subject string, raw []byte) ([]DeckCard, error) {
	record, err := firstRecord(subject, raw)
	if err != nil {
		return nil, err
	}

	var deck struct {
		Cards json.RawMessage `json:"cards"`
	}
	if err := json.Unmarshal(record, &deck); err != nil {
		return nil, &ResolutionError{Subject: subject, Field: "cards", Err: err}
	}
	if len(deck.Cards) == 0 || bytes.Equal(deck.Cards, []byte("null")) {
		return nil, &ResolutionError{Subject: subject, Field: "cards", Err: errors.New("missing")}
	}

	cards, err := orderedCounts(deck.Cards)
	if err != nil {
		return nil, &ResolutionError{Subject: subject, Field: "cards", Err: err}
	}
	return cards, nil
}

// orderedCounts walks a JSON object of id -> count, keeping key order.
func orderedCounts(raw json.RawMessage) ([]DeckCard, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var cards []DeckCard
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		id, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected card id, got %v", tok)
		}

		var count json.Number
		if err := dec.Decode(&count); err != nil {
			return nil, fmt.Errorf("count of %s: %w", id, err)
		}
		n, err := count.Int64()
		if err != nil || n < 0 {
			return nil, fmt.Errorf("count of %s must be a non-negative integer, got %s", id, count)
		}
		if n == 0 {
			continue
		}
		cards = append(cards, DeckCard{ID: id, Count: int(n)})
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cards, nil
}

// ParseCard extracts pack, position and side from a card document.
func ParseCard(subject string, raw []byte) (CardInfo, error) {
	record, err := firstRecord(subject, raw)
	if err != nil {
		return CardInfo{}, err
	}

	var card struct {
		PackCode *string `json:"pack_code"`
		Position *int    `json:"position"`
		SideCode *string `json:"side_code"`
	}
	if err := json.Unmarshal(record, &card); err != nil {
		return CardInfo{}, &ResolutionError{Subject: subject, Err: err}
	}

	switch {
	case card.PackCode == nil || strings.TrimSpace(*card.PackCode) == "":
		return CardInfo{}, &ResolutionError{Subject: subject, Field: "pack_code", Err: errors.New("missing")}
	case card.Position == nil:
		return CardInfo{}, &ResolutionError{Subject: subject, Field: "position", Err: errors.New("missing")}
	case *card.Position <= 0:
		return CardInfo{}, &ResolutionError{Subject: subject, Field: "position", Err: fmt.Errorf("must be positive, got %d", *card.Position)}
	case card.SideCode == nil:
		return CardInfo{}, &ResolutionError{Subject: subject, Field: "side_code", Err: errors.New("missing")}
	}

	side := models.Side(strings.TrimSpace(*card.SideCode))
	if side != models.SideCorp && side != models.SideRunner {
		return CardInfo{}, &ResolutionError{Subject: subject, Field: "side_code", Err: fmt.Errorf("unknown side %q", side)}
	}

	return CardInfo{
		Pack:     strings.TrimSpace(*card.PackCode),
		Position: *card.Position,
		Side:     side,
	}, nil
}
