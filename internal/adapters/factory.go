package adapters

import (
	"fmt"
	"os"

	"kin-go/internal/config"
	"kin-go/internal/kin"
)

// NewAdapterFromConfig creates an adapter based on the adapter config type.
func NewAdapterFromConfig(cfg config.AdapterConfig, region string, logger kin.Logger) (kin.Adapter, error) {
	sourceType := kin.SourceType(cfg.SourceType)
	if sourceType != "" && !sourceType.IsKnown() {
		return nil, fmt.Errorf("adapter %s: unknown source type %q", cfg.Name, cfg.SourceType)
	}
	filter := NewSenderFilter(cfg.Exclude)

	switch cfg.Type {
	case "jsonl":
		if cfg.Path == "" {
			return nil, fmt.Errorf("adapter %s: path required for jsonl adapter", cfg.Name)
		}
		return NewJSONLAdapter(cfg.Name, cfg.Phase, cfg.Path, sourceType, filter, region, logger), nil
	case "xlsx":
		if cfg.Path == "" {
			return nil, fmt.Errorf("adapter %s: path required for xlsx adapter", cfg.Name)
		}
		return NewXLSXAdapter(cfg.Name, cfg.Phase, cfg.Path, cfg.Sheet, filter, region, logger), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("adapter %s: url required for http adapter", cfg.Name)
		}
		var token string
		if cfg.TokenEnv != "" {
			token = os.Getenv(cfg.TokenEnv)
			if token == "" {
				logger.Warn("adapter token variable is empty", "adapter", cfg.Name, "env", cfg.TokenEnv)
			}
		}
		return NewHTTPAdapter(cfg.Name, cfg.Phase, cfg.URL, token, sourceType, filter, region, logger), nil
	default:
		return nil, fmt.Errorf("adapter %s: unknown adapter type: %s", cfg.Name, cfg.Type)
	}
}

// NewAdaptersFromConfig creates every configured adapter in order.
func NewAdaptersFromConfig(cfgs []config.AdapterConfig, region string, logger kin.Logger) ([]kin.Adapter, error) {
	out := make([]kin.Adapter, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate adapter name %q", c.Name)
		}
		seen[c.Name] = true
		a, err := NewAdapterFromConfig(c, region, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
