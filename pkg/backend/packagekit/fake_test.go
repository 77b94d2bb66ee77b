package packagekit

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// fakeDaemon is an in-memory Daemon over a set of package rows.
type fakeDaemon struct {
	mu sync.Mutex

	installed map[string]Package
	available map[string]Package
	updates   []Package
	sizes     map[string]uint64

	listErr    error
	installErr error
	// cancelByDaemon makes InstallPackages end as if another client cancelled it.
	cancelByDaemon bool
	block          chan struct{}
	calls          []string
	closed         bool
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		installed: make(map[string]Package),
		available: make(map[string]Package),
		sizes:     make(map[string]uint64),
	}
}

func (f *fakeDaemon) addInstalled(id, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, _ := ParsePackageID(id)
	f.installed[pid.Name] = Package{Info: InfoInstalled, ID: id, Summary: summary}
}

func (f *fakeDaemon) addAvailable(id, summary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, _ := ParsePackageID(id)
	f.available[pid.Name] = Package{Info: InfoAvailable, ID: id, Summary: summary}
}

func (f *fakeDaemon) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDaemon) called(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeDaemon) rows(filter Filter) []Package {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Package
	if filter&FilterNotInstalled == 0 {
		for _, p := range f.installed {
			out = append(out, p)
		}
	}
	if filter&FilterInstalled == 0 {
		for _, p := range f.available {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Package) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (f *fakeDaemon) GetPackages(_ context.Context, filter Filter, onPackage func(Package)) error {
	f.record("GetPackages")
	f.mu.Lock()
	err := f.listErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, p := range f.rows(filter) {
		onPackage(p)
	}
	return nil
}

func (f *fakeDaemon) SearchNames(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error {
	f.record("SearchNames " + strings.Join(terms, " "))
	for _, p := range f.rows(filter) {
		if err := ctx.Err(); err != nil {
			return err
		}
		pid, _ := ParsePackageID(p.ID)
		for _, t := range terms {
			if strings.Contains(pid.Name, t) {
				onPackage(p)
				break
			}
		}
	}
	return nil
}

// SearchDetails matches the summary, ignoring case.
func (f *fakeDaemon) SearchDetails(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error {
	f.record("SearchDetails " + strings.Join(terms, " "))
	for _, p := range f.rows(filter) {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary := strings.ToLower(p.Summary)
		for _, t := range terms {
			if strings.Contains(summary, strings.ToLower(t)) {
				onPackage(p)
				break
			}
		}
	}
	return nil
}

func (f *fakeDaemon) Resolve(_ context.Context, filter Filter, names []string, onPackage func(Package)) error {
	f.record("Resolve " + strings.Join(names, " "))
	for _, p := range f.rows(filter) {
		pid, _ := ParsePackageID(p.ID)
		if slices.Contains(names, pid.Name) {
			onPackage(p)
		}
	}
	return nil
}

func (f *fakeDaemon) GetDetails(_ context.Context, ids []string, onDetails func(Details)) error {
	f.record("GetDetails " + strings.Join(ids, " "))
	f.mu.Lock()
	sizes := make(map[string]uint64, len(f.sizes))
	for k, v := range f.sizes {
		sizes[k] = v
	}
	f.mu.Unlock()
	for _, id := range ids {
		if n, ok := sizes[id]; ok {
			onDetails(Details{PackageID: id, Size: n})
		}
	}
	return nil
}

func (f *fakeDaemon) GetUpdates(_ context.Context, _ Filter, onPackage func(Package)) error {
	f.record("GetUpdates")
	f.mu.Lock()
	ups := slices.Clone(f.updates)
	f.mu.Unlock()
	for _, p := range ups {
		onPackage(p)
	}
	return nil
}

func (f *fakeDaemon) RefreshCache(context.Context, bool) error {
	f.record("RefreshCache")
	return nil
}

func (f *fakeDaemon) wait(ctx context.Context) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeDaemon) InstallPackages(ctx context.Context, ids []string, progress ProgressFunc) error {
	f.record("InstallPackages " + strings.Join(ids, " "))
	progress(StatusDownload, 20)
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelByDaemon {
		return ErrCancelled
	}
	if f.installErr != nil {
		return f.installErr
	}
	progress(StatusInstall, 80)
	for _, id := range ids {
		pid, _ := ParsePackageID(id)
		pid.Data = "installed:" + pid.Data
		f.installed[pid.Name] = Package{Info: InfoInstalled, ID: pid.String()}
	}
	return nil
}

func (f *fakeDaemon) RemovePackages(_ context.Context, ids []string, _ bool, progress ProgressFunc) error {
	f.record("RemovePackages " + strings.Join(ids, " "))
	progress(StatusRemove, 50)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		pid, _ := ParsePackageID(id)
		delete(f.installed, pid.Name)
	}
	return nil
}

func (f *fakeDaemon) UpdatePackages(_ context.Context, ids []string, progress ProgressFunc) error {
	f.record("UpdatePackages " + strings.Join(ids, " "))
	progress(StatusUpdate, 60)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		pid, _ := ParsePackageID(id)
		pid.Data = "installed:" + pid.Data
		f.installed[pid.Name] = Package{Info: InfoInstalled, ID: pid.String()}
	}
	f.updates = nil
	return nil
}

func (f *fakeDaemon) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
