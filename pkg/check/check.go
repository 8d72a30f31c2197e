// Package check provides the checks that run before any query is sent.
package check

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/block/histclean/pkg/config"
	"github.com/block/histclean/pkg/warehouse"
)

// ScopeFlag scopes a check
type ScopeFlag uint8

const (
	ScopeNone ScopeFlag = iota
	// ScopeConfig checks only need the loaded table configuration.
	ScopeConfig
	// ScopePreflight checks need a warehouse connection.
	ScopePreflight
)

// Resources contains the resources needed for checks
type Resources struct {
	Warehouse warehouse.Warehouse
	Tables    []config.TableSpec
}

type check struct {
	callback func(context.Context, Resources, *slog.Logger) error
	scope    ScopeFlag
}

var (
	checks map[string]check
	lock   sync.Mutex
)

// registerCheck registers a check (callback func) and a scope (aka time) that it is expected to be run
func registerCheck(name string, callback func(context.Context, Resources, *slog.Logger) error, scope ScopeFlag) {
	lock.Lock()
	defer lock.Unlock()
	if checks == nil {
		checks = make(map[string]check)
	}
	checks[name] = check{callback: callback, scope: scope}
}

// RunChecks runs all checks that are registered for the given scope,
// in name order, and returns the first error.
func RunChecks(ctx context.Context, r Resources, logger *slog.Logger, scope ScopeFlag) error {
	lock.Lock()
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	lock.Unlock()
	slices.Sort(names)
	for _, name := range names {
		c := checks[name]
		if c.scope != scope {
			continue
		}
		logger.Debug("running check", "check", name)
		if err := c.callback(ctx, r, logger); err != nil {
			return err
		}
	}
	return nil
}
