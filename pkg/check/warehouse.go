package check

import (
	"context"
	"errors"
	"log/slog"
)

func init() {
	registerCheck("warehouse", warehouseCheck, ScopePreflight)
}

// warehouseCheck fails fast on bad credentials or a missing dataset,
// before any table is touched.
func warehouseCheck(ctx context.Context, r Resources, logger *slog.Logger) error {
	if r.Warehouse == nil {
		return errors.New("no warehouse configured")
	}
	if err := r.Warehouse.Ping(ctx); err != nil {
		return err
	}
	logger.Debug("warehouse is reachable")
	return nil
}
