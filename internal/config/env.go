package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override the YAML file.
// A double underscore descends into a section:
//
//	FTS_LISTEN=:9000
//	FTS_PODCAST__STORE=sqlite
//	FTS_MEETUP__ENRICH__CONCURRENCY=3
const EnvPrefix = "FTS_"

// applyEnv overlays FTS_* variables onto cfg. Only keys that are present in
// the environment are touched.
func applyEnv(cfg *Config) error {
	k := koanf.New(".")

	provider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("config: apply env: %w", err)
	}
	return nil
}
