package flatpak

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"discover/pkg/backend"
	"discover/pkg/resource"
)

// RefreshCatalog reloads remote metadata, reconciles installed refs and computes sizes, in that order.
func (b *Backend) RefreshCatalog(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if !b.IsValid() {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		b.refresh(ctx)
	}()
	return done
}

func (b *Backend) refresh(ctx context.Context) {
	ctx, cancel := b.bind(ctx)
	defer cancel()

	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.AcquireFetching()
	defer b.ReleaseFetching()

	start := time.Now()
	for _, inst := range b.installs {
		b.loadRemotes(ctx, inst)
	}
	for _, inst := range b.installs {
		b.loadInstalled(ctx, inst)
	}
	b.resolveAll(ctx)

	_ = b.Loop.Do(ctx, func() {
		b.Updater().Recompute()
		b.Publish(backend.EventResourcesChanged)
	})
	b.Logger.Debug("catalog refreshed",
		zap.Int("resources", b.Table.Len()),
		zap.Duration("took", time.Since(start)))
}

// loadRemotes merges the appstream catalog of every enabled remote. A remote that fails is skipped;
// what it contributed before stays.
func (b *Backend) loadRemotes(ctx context.Context, inst Installation) {
	scope := scopeOf(inst)
	remotes, err := inst.ListRemotes(ctx)
	if err != nil {
		b.Logger.Warn("failed to list remotes", zap.String("scope", scope.String()), zap.Error(err))
		return
	}

	for _, rem := range remotes {
		if rem.Disabled {
			continue
		}
		comps, err := loadAppstream(rem.AppstreamDir)
		if err != nil {
			b.Logger.Warn("failed to load appstream metadata",
				zap.String("scope", scope.String()),
				zap.String("remote", rem.Name),
				zap.Error(err))
			continue
		}

		cands := make([]*resource.Resource, 0, len(comps))
		for _, c := range comps {
			if r := candidate(c, scope, rem.Name, rem.AppstreamDir); r != nil {
				cands = append(cands, r)
			}
		}
		if err := b.Loop.Do(ctx, func() {
			for _, r := range cands {
				b.mergeCandidate(r)
			}
		}); err != nil {
			return
		}
	}
}

// mergeCandidate inserts r or enriches the resource that already owns its identity. Runs on the loop.
func (b *Backend) mergeCandidate(r *resource.Resource) {
	existing, added := b.Table.Add(r)
	if added {
		return
	}
	existing.MergeMetadata(r)
	if v := r.Version(); v != "" && !existing.IsInstalled() {
		existing.SetVersion(v)
	}
}

type installedState struct {
	scope   resource.Scope
	root    string
	refs    []InstalledRef
	entries []desktopEntry
	refsOK  bool
}

// loadInstalled enumerates what is deployed in inst and reconciles it with the table.
func (b *Backend) loadInstalled(ctx context.Context, inst Installation) {
	st := installedState{scope: scopeOf(inst), root: inst.Path(), refsOK: true}

	for _, kind := range []resource.Kind{resource.KindApp, resource.KindRuntime} {
		refs, err := inst.ListInstalledRefs(ctx, kind)
		if err != nil {
			b.Logger.Warn("failed to list installed refs",
				zap.String("scope", st.scope.String()),
				zap.String("kind", kind.String()),
				zap.Error(err))
			st.refsOK = false
			continue
		}
		st.refs = append(st.refs, refs...)
	}

	entries, err := loadDesktopEntries(st.root, func(file string, err error) {
		b.Logger.Warn("failed to parse desktop file", zap.String("file", file), zap.Error(err))
	})
	if err != nil {
		b.Logger.Warn("failed to read exported desktop files", zap.String("scope", st.scope.String()), zap.Error(err))
	}
	st.entries = entries

	_ = b.Loop.Do(ctx, func() { b.reconcile(st) })
}

// reconcile merges installed state into the table. Runs on the loop.
func (b *Backend) reconcile(st installedState) {
	seen := make(map[*resource.Resource]bool)

	for _, ir := range st.refs {
		seen[b.reconcileRef(st.scope, ir, seen)] = true
	}
	for _, e := range st.entries {
		if r := b.reconcileDesktop(st, e, seen); r != nil {
			seen[r] = true
		}
	}

	// Only trust absence when the ref listing itself worked.
	if !st.refsOK {
		return
	}
	for _, r := range b.Table.Snapshot() {
		if r.Scope() != st.scope || seen[r] {
			continue
		}
		if s := r.State(); s == resource.StateInstalled || s == resource.StateUpgradeAvailable {
			r.SetState(resource.StateNone)
			r.ResetSize()
		}
	}
}

func (b *Backend) reconcileRef(scope resource.Scope, ir InstalledRef, seen map[*resource.Resource]bool) *resource.Resource {
	id := resource.Identity{
		Scope:   scope,
		Backend: Name,
		Origin:  ir.Origin,
		Kind:    ir.Kind,
		Name:    ir.Name,
		Branch:  ir.Branch,
	}

	r, ok := b.Table.Get(id.String())
	if !ok {
		r = b.matchInstalled(id, ir.Arch, seen)
	}
	switch {
	case r == nil:
		r = resource.New(id)
		r.SetArch(ir.Arch)
		b.Table.Add(r)
	case r.UniqueID() != id.String():
		if err := b.Table.Rekey(r, id); err != nil {
			b.Logger.Warn("failed to complete identity", zap.String("resource", r.UniqueID()), zap.Error(err))
		}
	}
	b.absorbIncomplete(r, seen)
	b.applyInstalled(r, ir)
	return r
}

// matchInstalled finds the resource an installed ref belongs to when identities differ: by arch,
// branch and name when the candidate knows arch and branch, otherwise by name alone.
func (b *Backend) matchInstalled(id resource.Identity, arch string, seen map[*resource.Resource]bool) *resource.Resource {
	return b.Table.Find(func(r *resource.Resource) bool {
		if seen[r] || r.Scope() != id.Scope || r.Kind() != id.Kind {
			return false
		}
		if r.Arch() != "" && r.Branch() != "" {
			return r.Arch() == arch && r.Branch() == id.Branch && r.Name() == id.Name
		}
		return r.Name() == id.Name
	})
}

// absorbIncomplete folds a desktop-only entry with the same name into r and drops it.
func (b *Backend) absorbIncomplete(r *resource.Resource, seen map[*resource.Resource]bool) {
	dup := b.Table.Find(func(o *resource.Resource) bool {
		return o != r && !seen[o] && !o.Identity().Complete() &&
			o.Scope() == r.Scope() && o.Kind() == r.Kind() && o.Name() == r.Name()
	})
	if dup == nil {
		return
	}
	if r.DisplayName() == r.Name() {
		r.MergeMetadata(dup)
	}
	b.Table.Remove(dup.UniqueID())
}

// applyInstalled copies installed-ref fields into r. Runs on the loop.
func (b *Backend) applyInstalled(r *resource.Resource, ir InstalledRef) {
	r.SetArch(ir.Arch)
	r.SetCommit(ir.Commit)
	if ir.Version != "" {
		r.SetVersion(ir.Version)
	}
	r.SetInstalledSize(ir.InstalledSize)
	r.SetSize(ir.InstalledSize)

	switch r.State() {
	case resource.StateInstalling, resource.StateRemoving, resource.StateUpgradeAvailable:
		// owned by a running transaction or the update check
	default:
		r.SetState(resource.StateInstalled)
	}
}

// reconcileDesktop enriches installed resources from exported desktop files. When the ref listing
// failed it is the only source of installed state, so unmatched entries become installed-only
// resources with an incomplete identity.
func (b *Backend) reconcileDesktop(st installedState, e desktopEntry, seen map[*resource.Resource]bool) *resource.Resource {
	match := func(r *resource.Resource) bool {
		return r.Scope() == st.scope && r.Kind() == resource.KindApp && r.Name() == e.Name
	}
	r := b.Table.Find(func(r *resource.Resource) bool { return seen[r] && match(r) })
	if r == nil && !st.refsOK {
		r = b.Table.Find(match)
	}

	if r == nil {
		if st.refsOK {
			return nil
		}
		r = resource.New(resource.Identity{Scope: st.scope, Backend: Name, Kind: resource.KindApp, Name: e.Name})
		b.Table.Add(r)
	}

	if e.Display != "" && r.DisplayName() == r.Name() {
		r.SetDisplayName(e.Display)
	}
	if e.Comment != "" && r.Comment() == "" {
		r.SetComment(e.Comment)
	}
	if r.IconPath() == "" {
		r.SetIconPath(exportsDir(st.root))
	}
	if r.State() == resource.StateNone {
		r.SetState(resource.StateInstalled)
	}
	return r
}

// resolveAll resolves runtimes and sizes of every unsized resource, runtimes first so apps can add
// the size of a missing runtime.
func (b *Backend) resolveAll(ctx context.Context) {
	snap := b.Table.Snapshot()
	for _, kind := range []resource.Kind{resource.KindRuntime, resource.KindApp} {
		for _, r := range snap {
			if ctx.Err() != nil {
				return
			}
			if r.Kind() != kind || r.Size() > 0 {
				continue
			}
			b.resolve(ctx, r, true)
		}
	}
}

// resolve computes the runtime reference and the size of r. Failures leave the size unresolved.
// Only refreshes count against the runtime deferral budget.
func (b *Backend) resolve(ctx context.Context, r *resource.Resource, fromRefresh bool) {
	inst := b.installFor(r.Scope())
	if inst == nil || r.Size() > 0 {
		return
	}
	log := b.Logger.With(zap.String("resource", r.UniqueID()))
	ref := refFor(r)

	if r.Kind() == resource.KindApp && r.Runtime() == "" {
		rt, err := b.fetchRuntime(ctx, inst, r)
		if err != nil {
			log.Warn("failed to resolve runtime", zap.Error(err))
			return
		}
		if b.Loop.Do(ctx, func() { r.SetRuntime(rt) }) != nil {
			return
		}
	}

	if r.IsInstalled() {
		ir, err := inst.InstalledRef(ctx, ref)
		if err != nil {
			log.Warn("failed to get installed size", zap.Error(err))
			return
		}
		_ = b.Loop.Do(ctx, func() {
			r.SetInstalledSize(ir.InstalledSize)
			r.SetSize(ir.InstalledSize)
		})
		return
	}

	if r.Origin() == "" {
		log.Warn("cannot size resource without origin")
		return
	}

	var rt *resource.Resource
	if r.Kind() == resource.KindApp {
		rt = b.runtimeFor(r)
		switch {
		case rt == nil:
			if n := b.deferSizing(r, fromRefresh); n <= b.opts.RuntimeDeferrals {
				log.Debug("runtime unknown, size deferred", zap.String("runtime", r.Runtime()), zap.Int("deferrals", n))
				return
			}
			log.Warn("runtime never resolved, sizing app alone", zap.String("runtime", r.Runtime()))
		case !rt.IsInstalled() && rt.InstalledSize() == 0:
			b.resolve(ctx, rt, fromRefresh)
			if rt.InstalledSize() == 0 {
				log.Warn("failed to size runtime needed for total size", zap.String("runtime", rt.UniqueID()))
				return
			}
		}
	}

	download, installed, err := inst.FetchRemoteSize(ctx, r.Origin(), ref)
	if err != nil {
		log.Warn("failed to get remote size", zap.Error(err))
		return
	}
	// A missing runtime is downloaded and installed along with the app.
	size := download
	if rt != nil && !rt.IsInstalled() {
		size += rt.InstalledSize()
	}
	_ = b.Loop.Do(ctx, func() {
		r.SetDownloadSize(download)
		r.SetInstalledSize(installed)
		r.SetSize(size)
	})
	b.clearDeferral(r)
}

// fetchRuntime reads the runtime from the installed metadata file, or from the remote's copy.
func (b *Backend) fetchRuntime(ctx context.Context, inst Installation, r *resource.Resource) (string, error) {
	ref := refFor(r)
	content, err := os.ReadFile(installedMetadataPath(inst.Path(), ref))
	if err != nil {
		if r.Origin() == "" {
			return "", errors.New("missing origin for remote metadata")
		}
		content, err = inst.FetchRemoteMetadata(ctx, r.Origin(), ref)
		if err != nil {
			return "", err
		}
	}
	return runtimeFromMetadata(content)
}

// runtimeFor finds the runtime resource an app declares, preferring an installed one.
func (b *Backend) runtimeFor(app *resource.Resource) *resource.Resource {
	parts := strings.Split(app.Runtime(), "/")
	if len(parts) != 3 {
		return nil
	}
	name, arch, branch := parts[0], parts[1], parts[2]
	match := func(r *resource.Resource) bool {
		return r.Kind() == resource.KindRuntime && r.Name() == name && r.Branch() == branch &&
			(r.Arch() == "" || r.Arch() == arch)
	}
	if rt := b.Table.Find(func(r *resource.Resource) bool { return match(r) && r.IsInstalled() }); rt != nil {
		return rt
	}
	return b.Table.Find(match)
}

// deferSizing returns how often sizing r was deferred, counting this attempt when count is set.
func (b *Backend) deferSizing(r *resource.Resource, count bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count {
		b.deferrals[r.UniqueID()]++
	}
	return b.deferrals[r.UniqueID()]
}

func (b *Backend) clearDeferral(r *resource.Resource) {
	b.mu.Lock()
	delete(b.deferrals, r.UniqueID())
	b.mu.Unlock()
}
