package flatpak

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

// Install installs res and the requested add-on refs from the resource's origin.
func (b *Backend) Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleInstall, addons)
}

// Remove uninstalls res.
func (b *Backend) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleRemove, transaction.Addons{})
}

// Update updates res to the latest commit of its origin.
func (b *Backend) Update(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleUpdate, transaction.Addons{})
}

func (b *Backend) start(res *resource.Resource, role transaction.Role, addons transaction.Addons) (*transaction.Transaction, error) {
	if !b.IsValid() {
		return nil, b.SetupError()
	}
	if !b.Owns(res) {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownResource, res.UniqueID())
	}
	inst := b.installFor(res.Scope())
	if inst == nil {
		return nil, fmt.Errorf("%w: no %s installation", backend.ErrUnsupported, res.Scope())
	}

	var (
		tx   *transaction.Transaction
		prev resource.State
		err  error
	)
	if derr := b.Loop.Do(context.Background(), func() {
		prev = res.State()
		switch {
		case prev == resource.StateInstalling || prev == resource.StateRemoving:
			err = fmt.Errorf("%w: %s", transaction.ErrInProgress, res.UniqueID())
		case role == transaction.RoleInstall && res.IsInstalled():
			err = fmt.Errorf("%w: %s", backend.ErrAlreadyInstalled, res.UniqueID())
		case role != transaction.RoleInstall && !res.IsInstalled():
			err = fmt.Errorf("%w: %s", backend.ErrNotInstalled, res.UniqueID())
		case role == transaction.RoleInstall && res.Origin() == "":
			err = fmt.Errorf("%w: %s has no origin", backend.ErrUnknownResource, res.UniqueID())
		}
		if err != nil {
			return
		}

		tx = transaction.New(b.Loop.Context(), Name, res, role, addons)
		if role == transaction.RoleRemove {
			res.SetState(resource.StateRemoving)
			_ = tx.SetStatus(transaction.StatusCommitting)
		} else {
			res.SetState(resource.StateInstalling)
			_ = tx.SetStatus(transaction.StatusDownloading)
		}
	}); derr != nil {
		return nil, derr
	}
	if err != nil {
		return nil, err
	}

	go b.run(inst, tx, prev)
	return tx, nil
}

// run performs the native work off the loop and posts every callback back onto it.
func (b *Backend) run(inst Installation, tx *transaction.Transaction, prev resource.State) {
	res := tx.Resource()
	ref := refFor(res)
	ctx := tx.Context()

	progress := func(phase Phase, percent int) {
		b.Loop.Post(func() {
			if phase == PhaseCommitting && tx.Status() == transaction.StatusDownloading {
				_ = tx.SetStatus(transaction.StatusCommitting)
			}
			tx.SetProgress(percent)
		})
	}

	var err error
	switch tx.Role() {
	case transaction.RoleInstall:
		err = inst.Install(ctx, res.Origin(), ref, progress)
		if err == nil {
			err = b.applyAddons(ctx, inst, res.Origin(), tx.Addons(), progress)
		}
	case transaction.RoleUpdate:
		err = inst.Update(ctx, ref, progress)
	case transaction.RoleRemove:
		err = inst.Uninstall(ctx, ref, progress)
	}

	var (
		ir        *InstalledRef
		lookupErr error
	)
	if err == nil {
		ir, lookupErr = inst.InstalledRef(b.Loop.Context(), ref)
	}
	b.Loop.Post(func() { b.finish(tx, prev, err, ir, lookupErr) })
}

func (b *Backend) applyAddons(ctx context.Context, inst Installation, origin string, addons transaction.Addons, progress ProgressFunc) error {
	for _, name := range addons.Install {
		ref, err := ParseRef(name)
		if err != nil {
			return err
		}
		if err := inst.Install(ctx, origin, ref, progress); err != nil {
			return fmt.Errorf("addon %s: %w", name, err)
		}
	}
	for _, name := range addons.Remove {
		ref, err := ParseRef(name)
		if err != nil {
			return err
		}
		if err := inst.Uninstall(ctx, ref, progress); err != nil && !errors.Is(err, ErrNotInstalled) {
			return fmt.Errorf("addon %s: %w", name, err)
		}
	}
	return nil
}

// finish re-derives the resource after the native call returned. Runs on the loop.
func (b *Backend) finish(tx *transaction.Transaction, prev resource.State, err error, ir *InstalledRef, lookupErr error) {
	res := tx.Resource()
	log := b.Logger.With(zap.String("transaction", tx.ID()), zap.String("resource", res.UniqueID()))

	if err != nil && tx.Status() == transaction.StatusCancelled {
		res.SetState(prev)
		log.Info("transaction cancelled")
		return
	}
	if err != nil {
		res.SetState(prev)
		if ferr := tx.Fail(err); ferr != nil {
			log.Debug("failure after terminal status", zap.Error(ferr))
		}
		log.Warn("transaction failed", zap.String("role", tx.Role().String()), zap.Error(err))
		return
	}

	if tx.Status() == transaction.StatusDownloading {
		_ = tx.SetStatus(transaction.StatusCommitting)
	}

	switch {
	case ir != nil:
		b.applyInstalled(res, *ir)
		res.SetState(resource.StateInstalled)
	case errors.Is(lookupErr, ErrNotInstalled):
		res.SetState(resource.StateNone)
		res.ResetSize()
	default:
		log.Warn("failed to re-read installed state", zap.Error(lookupErr))
		if tx.Role() == transaction.RoleRemove {
			res.SetState(resource.StateNone)
			res.ResetSize()
		} else {
			res.SetState(resource.StateInstalled)
		}
	}

	b.Updater().Recompute()
	b.Publish(backend.EventResourcesChanged)
	if tx.Status() == transaction.StatusCancelled {
		// The native call finished before the cancellation reached it.
		log.Info("cancelled after the native call completed, keeping its result")
	} else if serr := tx.SetStatus(transaction.StatusDone); serr != nil {
		log.Debug("could not complete transaction", zap.Error(serr))
	}

	if res.Size() == 0 {
		go b.resolve(b.Loop.Context(), res, false)
	}
}

// CheckForUpdates marks installed resources with a newer commit on their remote as upgradeable.
func (b *Backend) CheckForUpdates(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if !b.IsValid() {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		ctx, cancel := b.bind(ctx)
		defer cancel()

		b.AcquireFetching()
		defer b.ReleaseFetching()

		type result struct {
			scope resource.Scope
			refs  []InstalledRef
		}
		var results []result
		for _, inst := range b.installs {
			refs, err := inst.ListRefsForUpdate(ctx)
			if err != nil {
				b.Logger.Warn("failed to check for updates", zap.String("scope", scopeOf(inst).String()), zap.Error(err))
				continue
			}
			results = append(results, result{scope: scopeOf(inst), refs: refs})
		}

		_ = b.Loop.Do(ctx, func() {
			for _, res := range results {
				b.applyUpdates(res.scope, res.refs)
			}
			b.Updater().Recompute()
		})
	}()
	return done
}

// applyUpdates runs on the loop.
func (b *Backend) applyUpdates(scope resource.Scope, refs []InstalledRef) {
	pending := make(map[*resource.Resource]bool)
	for _, ir := range refs {
		id := resource.Identity{Scope: scope, Backend: Name, Origin: ir.Origin, Kind: ir.Kind, Name: ir.Name, Branch: ir.Branch}
		r, ok := b.Table.Get(id.String())
		if !ok {
			r = b.Table.Find(func(r *resource.Resource) bool {
				return r.Scope() == scope && r.IsInstalled() && r.Kind() == ir.Kind &&
					r.Name() == ir.Name && r.Branch() == ir.Branch
			})
		}
		if r == nil {
			continue
		}
		pending[r] = true
		if r.State() == resource.StateInstalled {
			r.SetState(resource.StateUpgradeAvailable)
		}
	}

	for _, r := range b.Table.Snapshot() {
		if r.Scope() == scope && r.State() == resource.StateUpgradeAvailable && !pending[r] {
			r.SetState(resource.StateInstalled)
		}
	}
}
