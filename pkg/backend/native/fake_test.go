package native

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// exitError carries an exit status the way *exec.ExitError does.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

type reply struct {
	out string
	err error
}

// fakeRunner answers commands from a script keyed by the full command line.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
	sudo    []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: make(map[string]reply)}
}

func (f *fakeRunner) on(cmd, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = reply{out: out, err: err}
}

func (f *fakeRunner) lookup(name string, args []string) (reply, bool) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	r, ok := f.replies[cmd]
	return r, ok
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) (string, error) {
	r, ok := f.lookup(name, args)
	if !ok {
		return "", exitError(1)
	}
	return r.out, r.err
}

func (f *fakeRunner) Lines(_ context.Context, onLine func(string), name string, args ...string) error {
	r, ok := f.lookup(name, args)
	if !ok {
		return exitError(1)
	}
	for _, line := range strings.Split(r.out, "\n") {
		if strings.TrimSpace(line) != "" {
			onLine(strings.TrimRight(line, " \t"))
		}
	}
	return r.err
}

func (f *fakeRunner) RunSudo(_ context.Context, onLine func(string), name string, args ...string) error {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.sudo = append(f.sudo, cmd)
	r := f.replies[cmd]
	f.mu.Unlock()
	for _, line := range strings.Split(r.out, "\n") {
		if line != "" && onLine != nil {
			onLine(strings.TrimSpace(line))
		}
	}
	return r.err
}

func (f *fakeRunner) sudoCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sudo...)
}

// fakeTool is an in-memory package manager.
type fakeTool struct {
	mu         sync.Mutex
	installed  map[string]Package
	available  map[string]Package
	upgrades   map[string]string
	listErr    error
	installErr error
	output     []string
	block      chan struct{}
	calls      []string

	// uninterruptible makes blocked commands ignore cancellation, like a tool past its point of
	// no return.
	uninterruptible bool
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		installed: make(map[string]Package),
		available: make(map[string]Package),
		upgrades:  make(map[string]string),
	}
}

func (f *fakeTool) Name() string        { return "fake" }
func (f *fakeTool) DisplayName() string { return "Fake packages" }
func (f *fakeTool) Binary() string      { return "fake" }

func (f *fakeTool) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeTool) called(prefix string) int {
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

func sorted(m map[string]Package) []Package {
	pkgs := make([]Package, 0, len(m))
	for _, p := range m {
		pkgs = append(pkgs, p)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs
}

func (f *fakeTool) ListInstalled(context.Context) ([]Package, error) {
	f.record("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return sorted(f.installed), nil
}

func (f *fakeTool) ListUpgradable(context.Context) ([]Package, error) {
	f.record("upgradable")
	f.mu.Lock()
	defer f.mu.Unlock()
	var pkgs []Package
	for name, v := range f.upgrades {
		pkgs = append(pkgs, Package{Name: name, Version: v, Installed: true})
	}
	return pkgs, nil
}

func (f *fakeTool) Search(ctx context.Context, query string, onPackage func(Package)) error {
	f.record("search " + query)
	f.mu.Lock()
	var hits []Package
	for _, p := range sorted(f.available) {
		if strings.Contains(p.Name, query) || strings.Contains(strings.ToLower(p.Summary), query) {
			if _, ok := f.installed[p.Name]; ok {
				p.Installed = true
			}
			hits = append(hits, p)
		}
	}
	f.mu.Unlock()
	for _, p := range hits {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onPackage(p)
	}
	return nil
}

func (f *fakeTool) Info(_ context.Context, name string) (*Package, error) {
	f.record("info " + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.installed[name]; ok {
		return &p, nil
	}
	if p, ok := f.available[name]; ok {
		return &p, nil
	}
	return nil, &ToolError{Tool: "fake", Kind: ErrorNotFound, Packages: []string{name}}
}

func (f *fakeTool) IsInstalled(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.installed[name]
	return ok, nil
}

func (f *fakeTool) wait(ctx context.Context) error {
	f.mu.Lock()
	block, stubborn := f.block, f.uninterruptible
	f.mu.Unlock()
	if block == nil {
		return nil
	}
	if stubborn {
		<-block
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fake: %w", ctx.Err())
	}
}

func (f *fakeTool) emit(onLine func(string)) {
	f.mu.Lock()
	lines := append([]string(nil), f.output...)
	f.mu.Unlock()
	for _, l := range lines {
		onLine(l)
	}
}

func (f *fakeTool) Install(ctx context.Context, names []string, onLine func(string)) error {
	f.record("install " + strings.Join(names, " "))
	f.emit(onLine)
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	for _, n := range names {
		p, ok := f.available[n]
		if !ok {
			return &ToolError{Tool: "fake", Kind: ErrorNotFound, Packages: []string{n}, Err: errors.New("exit status 1")}
		}
		p.Installed = true
		f.installed[n] = p
	}
	return nil
}

func (f *fakeTool) Remove(ctx context.Context, names []string, onLine func(string)) error {
	f.record("remove " + strings.Join(names, " "))
	f.emit(onLine)
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		delete(f.installed, n)
	}
	return nil
}

func (f *fakeTool) Upgrade(ctx context.Context, names []string, onLine func(string)) error {
	f.record("upgrade " + strings.Join(names, " "))
	f.emit(onLine)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if v, ok := f.upgrades[n]; ok {
			p := f.installed[n]
			p.Version = v
			f.installed[n] = p
			delete(f.upgrades, n)
		}
	}
	return nil
}

func (f *fakeTool) Refresh(context.Context) error {
	f.record("refresh")
	return nil
}
