package registry

import (
	"context"
	"fmt"
)

// MergeSettings overlays values onto the stored group: new keys override
// same-named existing keys, other existing keys are kept.
func MergeSettings(ctx context.Context, s SettingsStore, group string, values map[string]string) error {
	existing, err := s.GetSetting(ctx, group)
	if err != nil {
		return fmt.Errorf("reading settings %s: %w", group, err)
	}
	merged := make(map[string]string, len(existing)+len(values))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	if err := s.EditSetting(ctx, group, merged); err != nil {
		return fmt.Errorf("writing settings %s: %w", group, err)
	}
	return nil
}
