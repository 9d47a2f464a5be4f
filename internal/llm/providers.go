package llm

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// BuildProviders creates an adapter for every configured provider. A provider
// whose adapter cannot be built is kept without one and is never tried.
func BuildProviders(ctx context.Context, cfgs []models.ProviderConfig, debugDir string) []Provider {
	providers := make([]Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		if !cfg.Active || !cfg.Available() {
			slog.Info("BuildProviders: provider skipped", "provider", cfg.ID, "active", cfg.Active, "available", cfg.Available())
			providers = append(providers, NewProvider(cfg, nil))
			continue
		}
		adapter, err := genai.NewAdapter(ctx, cfg, debugDir)
		if err != nil {
			slog.Warn("BuildProviders: failed to create adapter", "provider", cfg.ID, "error", err)
			providers = append(providers, NewProvider(cfg, nil))
			continue
		}
		providers = append(providers, NewProvider(cfg, adapter))
	}
	return providers
}
