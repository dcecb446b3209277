package scraper

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DeepMerge merges override onto base: nested objects merge recursively,
// leaves (scalars and arrays) are replaced by the override value. Neither
// input map is mutated.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if baseChild, ok := out[k].(map[string]any); ok {
			if overrideChild, ok := v.(map[string]any); ok {
				out[k] = DeepMerge(baseChild, overrideChild)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// MergeConfig applies overrides onto the middleware's default config and
// decodes the result into out, which must be a pointer to the config struct.
func MergeConfig(defaults any, overrides map[string]any, out any) error {
	base := make(map[string]any)
	if err := mapstructure.Decode(defaults, &base); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	merged := DeepMerge(base, overrides)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(merged); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
