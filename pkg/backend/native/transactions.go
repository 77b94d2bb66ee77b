package native

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
	"discover/pkg/transaction"
)

// Install installs res and the named add-on packages, then removes the deselected add-ons.
func (b *Backend) Install(res *resource.Resource, addons transaction.Addons) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleInstall, addons)
}

// Remove removes res.
func (b *Backend) Remove(res *resource.Resource) (*transaction.Transaction, error) {
	return b.start(res, transaction.RoleRemove, transaction.Addons{})
}

// Update upgrades res.
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

	go b.run(tx, prev)
	return tx, nil
}

var (
	percentPattern = regexp.MustCompile(`(\d{1,3})%`)

	// Lines that show the tool has moved from fetching to changing the system.
	committingPattern = regexp.MustCompile(`(?i)^(unpacking|setting up|removing|running transaction|` +
		`\(\s*\d+/\d+\)\s+(installing|upgrading|removing|reinstalling)|` +
		`(installing|upgrading|erasing|cleanup|verifying)\s+:)`)
)

// progressTracker turns tool output into transaction progress.
type progressTracker struct {
	committing bool
	percent    int
}

// feed returns the status and percentage implied by line.
func (p *progressTracker) feed(line string) (committing bool, percent int) {
	if committingPattern.MatchString(line) {
		p.committing = true
	}
	if m := percentPattern.FindAllStringSubmatch(line, -1); len(m) > 0 {
		if n, err := strconv.Atoi(m[len(m)-1][1]); err == nil && n <= 100 {
			p.percent = n
		}
	}
	return p.committing, p.percent
}

// run drives the tool off the loop and posts progress back onto it.
func (b *Backend) run(tx *transaction.Transaction, prev resource.State) {
	ctx := tx.Context()
	res := tx.Resource()
	name := res.Name()

	var tracker progressTracker
	onLine := func(line string) {
		committing, percent := tracker.feed(line)
		b.Loop.Post(func() {
			if committing && tx.Status() == transaction.StatusDownloading {
				_ = tx.SetStatus(transaction.StatusCommitting)
			}
			tx.SetProgress(percent)
		})
	}

	var err error
	switch tx.Role() {
	case transaction.RoleInstall:
		addons := tx.Addons()
		err = b.tool.Install(ctx, append([]string{name}, addons.Install...), onLine)
		if err == nil && len(addons.Remove) > 0 {
			err = b.tool.Remove(ctx, addons.Remove, onLine)
		}
	case transaction.RoleRemove:
		err = b.tool.Remove(ctx, []string{name}, onLine)
	case transaction.RoleUpdate:
		err = b.tool.Upgrade(ctx, []string{name}, onLine)
	}

	var st derived
	if err == nil {
		st = b.derive(b.Loop.Context(), name)
	}
	b.Loop.Post(func() { b.finish(tx, prev, err, st) })
}

// derived is what the tool reports about a package after a transaction.
type derived struct {
	installed bool
	info      *Package
	err       error
}

func (b *Backend) derive(ctx context.Context, name string) derived {
	installed, err := b.tool.IsInstalled(ctx, name)
	if err != nil {
		return derived{err: err}
	}
	d := derived{installed: installed}
	if p, err := b.tool.Info(ctx, name); err == nil {
		p.Installed = installed
		d.info = p
	}
	return d
}

// finish re-derives the resource from the tool after the transaction. Runs on the loop.
func (b *Backend) finish(tx *transaction.Transaction, prev resource.State, err error, st derived) {
	res := tx.Resource()
	name := res.Name()
	log := b.Logger.With(zap.String("transaction", tx.ID()), zap.String("resource", res.UniqueID()))

	switch {
	case err != nil && (tx.Status() == transaction.StatusCancelled || errors.Is(err, context.Canceled)):
		res.SetState(prev)
		tx.Cancel()
		log.Info("transaction cancelled")
		return
	case err != nil:
		res.SetState(prev)
		if ferr := tx.Fail(err); ferr != nil {
			log.Debug("failure after terminal status", zap.Error(ferr))
		}
		if te, ok := IsDependencyConflict(err); ok {
			log.Warn("transaction failed", zap.String("role", tx.Role().String()),
				zap.Strings("packages", te.Packages), zap.String("suggestion", te.Suggestion))
		} else {
			log.Warn("transaction failed", zap.String("role", tx.Role().String()), zap.Error(err))
		}
		return
	}

	// The tool finished before the cancellation reached it, so the system did change.
	if tx.Status() == transaction.StatusCancelled {
		log.Info("cancelled after the command completed, keeping its result")
	}
	if tx.Status() == transaction.StatusDownloading {
		_ = tx.SetStatus(transaction.StatusCommitting)
	}

	delete(b.upgradable, name)
	res.ResetSize()
	switch {
	case st.err != nil:
		log.Warn("failed to re-read package state", zap.Error(st.err))
		if tx.Role() == transaction.RoleRemove {
			res.SetState(resource.StateNone)
		} else {
			res.SetState(resource.StateInstalled)
		}
	case st.installed:
		res.SetState(resource.StateInstalled)
	default:
		res.SetState(resource.StateNone)
	}
	if st.info != nil {
		b.merge(*st.info)
	}

	b.Updater().Recompute()
	b.Publish(backend.EventResourcesChanged)
	if tx.Status().Terminal() {
		return
	}
	if serr := tx.SetStatus(transaction.StatusDone); serr != nil {
		log.Debug("could not complete transaction", zap.Error(serr))
	}
}
