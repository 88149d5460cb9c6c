// Package config provides configuration management for syncrail. Values are
// merged from the config file, SYNCRAIL_* environment variables and flag
// overrides, then decoded into typed structs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load decodes the merged viper state into a Config, appends any collection
// catalog file, fills the default store path, and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if path := strings.TrimSpace(cfg.CollectionsFile); path != "" {
		catalog, err := loadCollectionsFile(path)
		if err != nil {
			return nil, err
		}
		cfg.Collections = mergeCollections(cfg.Collections, catalog)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// collectionCatalog is the shape of the collections_file document.
type collectionCatalog struct {
	Collections []CollectionConfig `yaml:"collections"`
}

func loadCollectionsFile(path string) ([]CollectionConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied catalog path
	if err != nil {
		return nil, fmt.Errorf("failed to read collections file: %w", err)
	}

	catalog := collectionCatalog{}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse collections file %s: %w", path, err)
	}
	return catalog.Collections, nil
}

// mergeCollections appends catalog entries, letting inline config entries win
// on name collisions.
func mergeCollections(inline, catalog []CollectionConfig) []CollectionConfig {
	names := make(map[string]struct{}, len(inline))
	for _, col := range inline {
		names[col.Name] = struct{}{}
	}

	merged := inline
	for _, col := range catalog {
		if _, exists := names[col.Name]; exists {
			continue
		}
		merged = append(merged, col)
	}
	return merged
}

// DefaultStorePath returns the default location of the local database file.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "./syncrail.db"
	}
	return filepath.Join(home, ".syncrail", "syncrail.db")
}
