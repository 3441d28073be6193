// Copyright 2025 James Ross
// Package checkpoint implements the Checkpoint Guard (spec.md §5
// "Checkpoint guard (risky ops)"): snapshot-before, restore-on-failure
// wrapping for destructive graph operations (partial restores, prunings,
// ontology stitching).
package checkpoint

import (
	"context"
	"fmt"

	"github.com/kgraph/controlplane/internal/apierr"
	"github.com/kgraph/controlplane/internal/backup"
	"github.com/kgraph/controlplane/internal/clock"
	"github.com/kgraph/controlplane/internal/graph"
	"go.uber.org/zap"
)

// Op is a risky operation guarded by RunWithCheckpoint. It mutates facade
// directly; its return error (or panic) triggers a rollback.
type Op func(ctx context.Context) error

// IntegrityCheck verifies the graph is consistent after op ran, before the
// checkpoint is discarded. Returning an error triggers rollback.
type IntegrityCheck func(ctx context.Context, facade graph.Facade) error

// Guard wraps risky graph operations with a full-snapshot-and-restore
// safety net (spec.md §5).
type Guard struct {
	facade graph.Facade
	clk    clock.Clock
	log    *zap.Logger
}

// New constructs a Guard bound to facade.
func New(facade graph.Facade, clk clock.Clock, log *zap.Logger) *Guard {
	return &Guard{facade: facade, clk: clk, log: log}
}

// RunWithCheckpoint snapshots facade, runs op, then check; on either
// returning an error (or op panicking) it restores the pre-op snapshot and
// surfaces an Integrity apierr to the caller (spec.md §5: "on fail or
// panic → restore from checkpoint and surface IntegrityError").
func (g *Guard) RunWithCheckpoint(ctx context.Context, check IntegrityCheck, op Op) (err error) {
	snapshot, createErr := backup.Create(ctx, g.facade, g.clk, backup.TypePartial)
	if createErr != nil {
		return fmt.Errorf("checkpoint: create snapshot: %w", createErr)
	}

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("checkpoint: op panicked, rolling back", zap.Any("panic", r))
			err = g.rollback(ctx, snapshot, fmt.Errorf("panic: %v", r))
		}
	}()

	if opErr := op(ctx); opErr != nil {
		return g.rollback(ctx, snapshot, opErr)
	}

	if check != nil {
		if checkErr := check(ctx, g.facade); checkErr != nil {
			return g.rollback(ctx, snapshot, checkErr)
		}
	}

	// Integrity check passed: the snapshot is discarded implicitly (it was
	// never persisted anywhere durable, only held in memory for this call).
	return nil
}

func (g *Guard) rollback(ctx context.Context, snapshot backup.Container, cause error) error {
	if restoreErr := backup.Restore(ctx, g.facade, snapshot, true); restoreErr != nil {
		g.log.Error("checkpoint: rollback itself failed", zap.Error(restoreErr), zap.NamedError("cause", cause))
		return apierr.Integrity("checkpoint_rollback_failed",
			fmt.Sprintf("operation failed (%v) and rollback also failed", cause), restoreErr)
	}
	g.log.Warn("checkpoint: rolled back after failed operation", zap.Error(cause))
	return apierr.Integrity("checkpoint_rolled_back", "operation failed integrity check and was rolled back", cause)
}
