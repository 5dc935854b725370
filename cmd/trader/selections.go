package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"gopkg.in/yaml.v3"
)

// selectionFile is the YAML layout accepted by -selections.
type selectionFile struct {
	Selections []selectionEntry `yaml:"selections"`
}

type selectionEntry struct {
	UniqueID          string    `yaml:"unique_id"`
	RaceID            string    `yaml:"race_id"`
	RaceTime          time.Time `yaml:"race_time"`
	HorseID           string    `yaml:"horse_id"`
	HorseName         string    `yaml:"horse_name"`
	Side              string    `yaml:"side"`
	MarketType        string    `yaml:"market_type"`
	RequestedOdds     float64   `yaml:"requested_odds"`
	StakePoints       float64   `yaml:"stake_points"`
	MarketID          string    `yaml:"market_id"`
	SelectionID       string    `yaml:"selection_id"`
	OriginalRunners   int       `yaml:"original_runners"`
	OriginalPrice     float64   `yaml:"original_price"`
	PlaceTermsChanged bool      `yaml:"place_terms_changed"`
	CashOutRequested  bool      `yaml:"cash_out_requested"`
	ExpiresAt         time.Time `yaml:"expires_at"`
}

// parseSelections decodes and validates a selections file.
func parseSelections(data []byte) ([]domain.SelectionState, error) {
	var f selectionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	seen := make(map[string]bool, len(f.Selections))
	out := make([]domain.SelectionState, 0, len(f.Selections))
	for i, e := range f.Selections {
		if e.UniqueID == "" || e.MarketID == "" || e.SelectionID == "" {
			return nil, fmt.Errorf("selection %d: unique_id, market_id and selection_id are required", i)
		}
		if seen[e.UniqueID] {
			return nil, fmt.Errorf("selection %s: duplicate unique_id", e.UniqueID)
		}
		seen[e.UniqueID] = true
		if e.RaceTime.IsZero() {
			return nil, fmt.Errorf("selection %s: race_time is required", e.UniqueID)
		}
		side, err := domain.ParseSide(e.Side)
		if err != nil {
			return nil, fmt.Errorf("selection %s: %w", e.UniqueID, err)
		}
		marketType, err := domain.ParseMarketType(e.MarketType)
		if err != nil {
			return nil, fmt.Errorf("selection %s: %w", e.UniqueID, err)
		}
		if e.RequestedOdds <= 1 {
			return nil, fmt.Errorf("selection %s: requested_odds must be above 1", e.UniqueID)
		}
		if e.StakePoints <= 0 {
			e.StakePoints = 1
		}

		out = append(out, domain.SelectionState{
			UniqueID:          e.UniqueID,
			RaceID:            e.RaceID,
			RaceTime:          e.RaceTime.UTC(),
			HorseID:           e.HorseID,
			HorseName:         e.HorseName,
			Side:              side,
			MarketType:        marketType,
			RequestedOdds:     e.RequestedOdds,
			StakePoints:       e.StakePoints,
			MarketID:          e.MarketID,
			SelectionID:       e.SelectionID,
			Valid:             true,
			OriginalRunners:   e.OriginalRunners,
			OriginalPrice:     e.OriginalPrice,
			PlaceTermsChanged: e.PlaceTermsChanged,
			CashOutRequested:  e.CashOutRequested,
			ExpiresAt:         e.ExpiresAt,
		})
	}
	return out, nil
}

// loadSelections saves every selection of the file at path.
func loadSelections(ctx context.Context, path string, w ports.SelectionWriter) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", path, err)
	}
	sels, err := parseSelections(data)
	if err != nil {
		return 0, err
	}
	for _, s := range sels {
		if err := w.SaveSelection(ctx, s); err != nil {
			return 0, err
		}
	}
	return len(sels), nil
}
