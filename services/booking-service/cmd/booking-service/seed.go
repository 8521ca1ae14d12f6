package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
)

// seedProviders loads a JSON array of providers, for local runs without the
// provider service feeding Kafka.
func seedProviders(ctx context.Context, engine *scheduling.Engine, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read provider seed: %w", err)
	}
	var providers []model.Provider
	if err := json.Unmarshal(raw, &providers); err != nil {
		return 0, fmt.Errorf("parse provider seed %s: %w", path, err)
	}
	for _, p := range providers {
		if err := engine.UpsertProvider(ctx, p); err != nil {
			return 0, fmt.Errorf("seed provider %s: %w", p.ID, err)
		}
	}
	return len(providers), nil
}
