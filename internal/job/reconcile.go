package job

import (
	"context"

	"github.com/mstreamhq/mstream/internal/config"
	"github.com/mstreamhq/mstream/internal/model"
)

// LifecycleStore persists the set of connector specs the job manager
// should run, independent of the config file on disk, so that jobs
// created or edited at runtime survive a process restart.
type LifecycleStore interface {
	LoadAll(ctx context.Context) ([]model.ConnectorSpec, error)
	SaveAll(ctx context.Context, specs []model.ConnectorSpec) error
}

// Reconcile resolves the set of specs to start at boot from the config
// file's connectors and whatever the lifecycle store already holds,
// per spec.md §4.8's three startup policies:
//
//   - force_from_file: the file always wins; the store is overwritten.
//   - seed_from_file: the file seeds an empty store, but an existing
//     store is left alone (specs created at runtime survive a restart).
//   - keep: the store's contents win outright; the file is only used
//     when the store has nothing yet.
func Reconcile(ctx context.Context, policy config.ReconcilePolicy, fileSpecs []model.ConnectorSpec, store LifecycleStore) ([]model.ConnectorSpec, error) {
	switch policy {
	case config.ReconcileForceFromFile:
		if err := store.SaveAll(ctx, fileSpecs); err != nil {
			return nil, err
		}
		return fileSpecs, nil

	case config.ReconcileSeedFromFile:
		existing, err := store.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
		if err := store.SaveAll(ctx, fileSpecs); err != nil {
			return nil, err
		}
		return fileSpecs, nil

	default: // config.ReconcileKeep, and the zero value
		existing, err := store.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return existing, nil
		}
		return fileSpecs, nil
	}
}
