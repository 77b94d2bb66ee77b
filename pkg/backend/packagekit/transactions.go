package packagekit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

// Install installs the newest available package of res and the named add-on packages.
func (b *Backend) Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleInstall, addons)
}

// Remove removes the installed package of res.
func (b *Backend) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleRemove, transaction.Addons{})
}

// Update installs the pending update of res.
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

	var (
		tx   *transaction.Transaction
		prev resource.State
		id   string
		err  error
	)
	if derr := b.Loop.Do(context.Background(), func() {
		prev = res.State()
		name := res.Name()
		switch {
		case prev == resource.StateInstalling || prev == resource.StateRemoving:
			err = fmt.Errorf("%w: %s", transaction.ErrInProgress, res.UniqueID())
		case role == transaction.RoleInstall && res.IsInstalled():
			err = fmt.Errorf("%w: %s", backend.ErrAlreadyInstalled, res.UniqueID())
		case role != transaction.RoleInstall && !res.IsInstalled():
			err = fmt.Errorf("%w: %s", backend.ErrNotInstalled, res.UniqueID())
		}
		if err != nil {
			return
		}

		switch role {
		case transaction.RoleInstall:
			id = b.available[name]
		case transaction.RoleRemove:
			id = b.installed[name]
		case transaction.RoleUpdate:
			id = b.updates[name]
		}
		if id == "" {
			err = fmt.Errorf("%w: no package to %s for %s", backend.ErrUnknownResource, role, name)
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

	go b.run(tx, prev, id)
	return tx, nil
}

// run drives the daemon transaction off the loop and posts every callback back onto it.
func (b *Backend) run(tx *transaction.Transaction, prev resource.State, id string) {
	ctx := tx.Context()
	res := tx.Resource()

	progress := func(st Status, percent int) {
		b.Loop.Post(func() {
			switch st {
			case StatusInstall, StatusRemove, StatusUpdate, StatusCommit:
				if tx.Status() == transaction.StatusDownloading {
					_ = tx.SetStatus(transaction.StatusCommitting)
				}
			}
			tx.SetProgress(percent)
		})
	}

	var err error
	switch tx.Role() {
	case transaction.RoleInstall:
		err = b.install(ctx, id, tx.Addons(), progress)
	case transaction.RoleRemove:
		err = b.daemon.RemovePackages(ctx, []string{id}, false, progress)
	case transaction.RoleUpdate:
		err = b.daemon.UpdatePackages(ctx, []string{id}, progress)
	}

	var (
		pkgs       []Package
		resolveErr error
	)
	if err == nil {
		resolveErr = b.daemon.Resolve(b.Loop.Context(), FilterNone, []string{res.Name()}, func(p Package) {
			pkgs = append(pkgs, p)
		})
	}
	b.Loop.Post(func() { b.finish(tx, prev, err, pkgs, resolveErr) })
}

func (b *Backend) install(ctx context.Context, id string, addons transaction.Addons, progress ProgressFunc) error {
	ids := []string{id}
	if len(addons.Install) > 0 {
		extra, err := b.resolveIDs(ctx, FilterNotInstalled|FilterNewest, addons.Install)
		if err != nil {
			return err
		}
		ids = append(ids, extra...)
	}
	if err := b.daemon.InstallPackages(ctx, ids, progress); err != nil {
		return err
	}
	if len(addons.Remove) == 0 {
		return nil
	}
	drop, err := b.resolveIDs(ctx, FilterInstalled, addons.Remove)
	if err != nil || len(drop) == 0 {
		return err
	}
	return b.daemon.RemovePackages(ctx, drop, false, progress)
}

func (b *Backend) resolveIDs(ctx context.Context, filter Filter, names []string) ([]string, error) {
	var ids []string
	err := b.daemon.Resolve(ctx, filter, names, func(p Package) { ids = append(ids, p.ID) })
	if err != nil {
		return nil, fmt.Errorf("resolve add-ons: %w", err)
	}
	return ids, nil
}

// finish re-derives the resource from what the daemon reports after the transaction. Runs on the loop.
func (b *Backend) finish(tx *transaction.Transaction, prev resource.State, err error, pkgs []Package, resolveErr error) {
	res := tx.Resource()
	name := res.Name()
	log := b.Logger.With(zap.String("transaction", tx.ID()), zap.String("resource", res.UniqueID()))

	switch {
	case tx.Status() == transaction.StatusCancelled:
		res.SetState(prev)
		log.Info("transaction cancelled")
		return
	case errors.Is(err, ErrCancelled):
		res.SetState(prev)
		tx.Cancel()
		log.Info("transaction cancelled by the daemon")
		return
	case err != nil:
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

	delete(b.updates, name)
	res.ResetSize()
	if resolveErr == nil {
		delete(b.installed, name)
		delete(b.available, name)
		for _, p := range pkgs {
			b.mergePackage(p)
		}
		if _, ok := b.installed[name]; ok {
			res.SetState(resource.StateInstalled)
		} else {
			res.SetState(resource.StateNone)
		}
	} else {
		log.Warn("failed to re-read package state", zap.Error(resolveErr))
		if tx.Role() == transaction.RoleRemove {
			delete(b.installed, name)
			res.SetState(resource.StateNone)
		} else {
			res.SetState(resource.StateInstalled)
		}
	}

	b.Updater().Recompute()
	b.Publish(backend.EventResourcesChanged)
	if serr := tx.SetStatus(transaction.StatusDone); serr != nil {
		log.Debug("could not complete transaction", zap.Error(serr))
	}

	go b.fetchDetails(b.Loop.Context(), []*resource.Resource{res})
}
