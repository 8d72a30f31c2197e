package check

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/block/histclean/pkg/config"
)

func init() {
	registerCheck("config", configCheck, ScopeConfig)
}

// configCheck rejects table configurations whose queries would be
// meaningless: a partition that includes the order key has exactly one
// row per partition, and repeated key columns are a typo.
func configCheck(_ context.Context, r Resources, _ *slog.Logger) error {
	for _, spec := range r.Tables {
		if err := spec.Validate(); err != nil {
			return err
		}
		updated := spec.UpdatedKey
		if updated == "" {
			updated = config.DefaultUpdatedKey
		}
		seen := make(map[string]struct{}, len(spec.PrimaryKeys))
		for _, key := range spec.PrimaryKeys {
			lower := strings.ToLower(key)
			if _, ok := seen[lower]; ok {
				return fmt.Errorf("%w: table %q lists primary key %q more than once", config.ErrInvalidConfig, spec.Name, key)
			}
			seen[lower] = struct{}{}
		}
		if _, ok := seen[strings.ToLower(spec.OrderKey)]; ok {
			return fmt.Errorf("%w: table %q uses order_key %q as a primary key", config.ErrInvalidConfig, spec.Name, spec.OrderKey)
		}
		if strings.EqualFold(spec.OrderKey, updated) {
			return fmt.Errorf("%w: table %q uses %q as both order_key and updated_at", config.ErrInvalidConfig, spec.Name, updated)
		}
		if slices.ContainsFunc(spec.PrimaryKeys, func(k string) bool { return strings.EqualFold(k, updated) }) {
			return fmt.Errorf("%w: table %q lists updated_at column %q as a primary key", config.ErrInvalidConfig, spec.Name, updated)
		}
	}
	return nil
}
