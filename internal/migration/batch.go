package migration

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InstanceMigrator migrates a single instance. *Coordinator implements it.
type InstanceMigrator interface {
	Migrate(ctx context.Context, instanceID string, key Key, discardSource bool) (InstanceReport, error)
}

// Batch drives a list of instances through an InstanceMigrator. Instance
// scoped failures are logged and the batch moves on; connectivity and
// argument failures abort it. An abort stops new instances from starting
// but lets the ones in flight run to completion.
type Batch struct {
	migrator InstanceMigrator
	logger   *zap.Logger
	parallel int
}

// NewBatch returns a Batch migrating up to parallel instances at once.
// Values below one are treated as one.
func NewBatch(m InstanceMigrator, logger *zap.Logger, parallel int) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Batch{migrator: m, logger: logger, parallel: parallel}
}

// Run migrates every instance. The returned error is non-nil only when the
// batch was aborted; per-instance failures are in the report.
func (b *Batch) Run(ctx context.Context, instanceIDs []string, key Key, discardSource bool) (Report, error) {
	ids := dedupe(instanceIDs)
	if len(ids) == 0 {
		return Report{}, &Error{Kind: KindInvalidArgument, Err: errors.New("no instance ids given")}
	}
	if key.Ref == "" {
		return Report{}, &Error{Kind: KindInvalidArgument, Err: errors.New("no migration key given")}
	}
	if len(ids) < len(instanceIDs) {
		b.logger.Warn("ignoring duplicate instance ids", zap.Int("given", len(instanceIDs)), zap.Int("unique", len(ids)))
	}

	// A fatal error stops new instances from being launched. Instances
	// already in flight keep the parent context so they can finish a swap.
	aborted, abort := context.WithCancel(ctx)
	defer abort()

	var g errgroup.Group
	g.SetLimit(b.parallel)

	reports := make([]InstanceReport, len(ids))
	attempted := make([]bool, len(ids))
	for i, id := range ids {
		if aborted.Err() != nil {
			break
		}
		g.Go(func() error {
			// Go may block on the limit until an aborting instance returns.
			if aborted.Err() != nil {
				return nil
			}
			attempted[i] = true
			rep, err := b.migrator.Migrate(ctx, id, key, discardSource)
			rep.InstanceID = id
			reports[i] = rep
			if err == nil {
				return nil
			}

			fields := []zap.Field{zap.String("instance", id), zap.String("kind", string(KindOf(err))), zap.Error(err)}
			if Fatal(err) {
				b.logger.Error("aborting batch", fields...)
				abort()
				return err
			}
			b.logger.Error("instance migration failed, continuing", fields...)
			return nil
		})
	}
	err := g.Wait()

	var report Report
	for i, id := range ids {
		if attempted[i] {
			report.Instances = append(report.Instances, reports[i])
		} else {
			report.NotAttempted = append(report.NotAttempted, id)
		}
	}
	return report, err
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
