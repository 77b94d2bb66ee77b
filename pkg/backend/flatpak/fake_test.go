package flatpak

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"discover/pkg/resource"
)

// fakeInstallation is an in-memory Installation rooted in a temp directory.
type fakeInstallation struct {
	mu sync.Mutex

	user      bool
	path      string
	remotes   []Remote
	installed []InstalledRef
	updates   []InstalledRef
	metadata  map[string]string
	sizes     map[string][2]uint64

	listErr    error
	installErr error
	block      chan struct{}
	calls      []string
}

func newFakeInstallation(t *testing.T, user bool) *fakeInstallation {
	t.Helper()
	return &fakeInstallation{
		user:     user,
		path:     t.TempDir(),
		metadata: make(map[string]string),
		sizes:    make(map[string][2]uint64),
	}
}

// addRemote registers a remote and writes its appstream catalog. Empty xml leaves the catalog missing.
func (f *fakeInstallation) addRemote(t *testing.T, name, xml string) {
	t.Helper()
	dir := filepath.Join(f.path, "appstream", name, "x86_64", "active")
	if xml != "" {
		writeAppstream(t, dir, xml)
	}
	f.mu.Lock()
	f.remotes = append(f.remotes, Remote{Name: name, Title: name, AppstreamDir: dir})
	f.mu.Unlock()
}

func (f *fakeInstallation) install(ref string, origin string, size uint64) {
	r, err := ParseRef(ref)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, InstalledRef{Ref: r, Origin: origin, Commit: "c1", InstalledSize: size})
}

func (f *fakeInstallation) uninstall(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = slices.DeleteFunc(f.installed, func(ir InstalledRef) bool { return ir.Ref.String() == ref })
}

func (f *fakeInstallation) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeInstallation) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeInstallation) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeInstallation) IsUser() bool { return f.user }
func (f *fakeInstallation) Path() string { return f.path }

func (f *fakeInstallation) ListRemotes(context.Context) ([]Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.remotes), nil
}

func (f *fakeInstallation) SetRemoteEnabled(_ context.Context, name string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.remotes {
		if f.remotes[i].Name == name {
			f.remotes[i].Disabled = !enabled
			return nil
		}
	}
	return fmt.Errorf("no remote %s", name)
}

func (f *fakeInstallation) ListInstalledRefs(_ context.Context, kind resource.Kind) ([]InstalledRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []InstalledRef
	for _, ir := range f.installed {
		if ir.Kind == kind {
			out = append(out, ir)
		}
	}
	return out, nil
}

func (f *fakeInstallation) InstalledRef(ctx context.Context, ref Ref) (*InstalledRef, error) {
	refs, err := f.ListInstalledRefs(ctx, ref.Kind)
	if err != nil {
		return nil, err
	}
	for _, ir := range refs {
		if ir.Name == ref.Name && ir.Branch == ref.Branch && (ref.Arch == "" || ir.Arch == ref.Arch) {
			return &ir, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInstalled, ref)
}

func (f *fakeInstallation) ListRefsForUpdate(context.Context) ([]InstalledRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.updates), nil
}

func (f *fakeInstallation) FetchRemoteMetadata(_ context.Context, remote string, ref Ref) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("metadata " + ref.String())
	md, ok := f.metadata[ref.String()]
	if !ok {
		return nil, errors.New("metadata not found")
	}
	return []byte(md), nil
}

func (f *fakeInstallation) FetchRemoteSize(_ context.Context, remote string, ref Ref) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("size " + ref.String())
	s, ok := f.sizes[ref.String()]
	if !ok {
		return 0, 0, errors.New("size not found")
	}
	return s[0], s[1], nil
}

func (f *fakeInstallation) wait(ctx context.Context) error {
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

func (f *fakeInstallation) Install(ctx context.Context, remote string, ref Ref, progress ProgressFunc) error {
	progress(PhaseDownloading, 30)
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	err := f.installErr
	f.record("install " + ref.String())
	f.mu.Unlock()
	if err != nil {
		return err
	}
	progress(PhaseCommitting, 100)
	f.install(ref.String(), remote, 4096)
	return nil
}

func (f *fakeInstallation) Update(ctx context.Context, ref Ref, progress ProgressFunc) error {
	progress(PhaseDownloading, 50)
	f.mu.Lock()
	f.record("update " + ref.String())
	f.updates = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeInstallation) Uninstall(ctx context.Context, ref Ref, progress ProgressFunc) error {
	progress(PhaseCommitting, 50)
	f.mu.Lock()
	f.record("uninstall " + ref.String())
	f.mu.Unlock()
	f.uninstall(ref.String())
	return nil
}

func writeAppstream(t *testing.T, dir, xml string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(dir, appstreamFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(xml)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeDesktopFile(t *testing.T, root, file, content string) {
	t.Helper()
	dir := applicationsDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
