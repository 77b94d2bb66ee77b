package flatpak

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"discover/internal/executor"
	"discover/pkg/resource"
)

const binary = "flatpak"

// cliInstallation drives the flatpak command-line tool for one installation.
type cliInstallation struct {
	exec *executor.Executor
	user bool
	path string
	arch string
}

// DefaultPath returns the conventional root of the system or user installation.
func DefaultPath(scope resource.Scope) string {
	if scope == resource.ScopeUser {
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			home, _ := os.UserHomeDir()
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, "flatpak")
	}
	return "/var/lib/flatpak"
}

// OpenInstallation returns the installation for scope rooted at path (DefaultPath when empty). It fails when
// the flatpak tool is missing or the installation root does not exist.
func OpenInstallation(ctx context.Context, exec *executor.Executor, scope resource.Scope, path string) (Installation, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("flatpak not found: %w", err)
	}
	if path == "" {
		path = DefaultPath(scope)
	}
	if st, err := os.Stat(path); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("installation root %s unavailable", path)
	}

	arch, err := exec.Output(ctx, binary, "--default-arch")
	if err != nil {
		return nil, fmt.Errorf("flatpak --default-arch: %w", err)
	}

	return &cliInstallation{
		exec: exec,
		user: scope == resource.ScopeUser,
		path: path,
		arch: strings.TrimSpace(arch),
	}, nil
}

func (c *cliInstallation) IsUser() bool { return c.user }
func (c *cliInstallation) Path() string { return c.path }

func (c *cliInstallation) scopeFlag() string {
	if c.user {
		return "--user"
	}
	return "--system"
}

func (c *cliInstallation) output(ctx context.Context, args ...string) (string, error) {
	return c.exec.Output(ctx, binary, append([]string{args[0], c.scopeFlag()}, args[1:]...)...)
}

// ListRemotes lists remotes including disabled ones.
func (c *cliInstallation) ListRemotes(ctx context.Context) ([]Remote, error) {
	out, err := c.output(ctx, "remotes", "--show-disabled", "--columns=name,title,url,options")
	if err != nil {
		return nil, err
	}

	var remotes []Remote
	for _, fields := range columns(out) {
		if len(fields) < 1 || fields[0] == "" {
			continue
		}
		r := Remote{Name: fields[0]}
		if len(fields) > 1 {
			r.Title = fields[1]
		}
		if len(fields) > 2 {
			r.URL = fields[2]
		}
		if len(fields) > 3 {
			r.Disabled = strings.Contains(fields[3], "disabled")
		}
		r.AppstreamDir = filepath.Join(c.path, "appstream", r.Name, c.arch, "active")
		remotes = append(remotes, r)
	}
	return remotes, nil
}

// SetRemoteEnabled enables or disables a remote.
func (c *cliInstallation) SetRemoteEnabled(ctx context.Context, name string, enabled bool) error {
	flag := "--disable"
	if enabled {
		flag = "--enable"
	}
	return c.exec.Run(ctx, nil, binary, "remote-modify", c.scopeFlag(), flag, name)
}

// ListInstalledRefs lists deployed refs of one kind.
func (c *cliInstallation) ListInstalledRefs(ctx context.Context, kind resource.Kind) ([]InstalledRef, error) {
	kindFlag := "--app"
	if kind == resource.KindRuntime {
		kindFlag = "--runtime"
	}
	out, err := c.output(ctx, "list", kindFlag, "--columns=ref,origin,active,version,size")
	if err != nil {
		return nil, err
	}
	return parseRefList(out), nil
}

// InstalledRef returns the deployed ref, or ErrNotInstalled.
func (c *cliInstallation) InstalledRef(ctx context.Context, ref Ref) (*InstalledRef, error) {
	refs, err := c.ListInstalledRefs(ctx, ref.Kind)
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		if r.Name == ref.Name && (ref.Arch == "" || r.Arch == ref.Arch) && (ref.Branch == "" || r.Branch == ref.Branch) {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInstalled, ref)
}

// ListRefsForUpdate lists installed refs with a newer commit on their remote.
func (c *cliInstallation) ListRefsForUpdate(ctx context.Context) ([]InstalledRef, error) {
	out, err := c.output(ctx, "remote-ls", "--updates", "--columns=ref,origin,commit")
	if err != nil {
		return nil, err
	}
	var refs []InstalledRef
	for _, fields := range columns(out) {
		ref, err := ParseRef(fields[0])
		if err != nil {
			continue
		}
		ir := InstalledRef{Ref: ref}
		if len(fields) > 1 {
			ir.Origin = fields[1]
		}
		if len(fields) > 2 {
			ir.Commit = fields[2]
		}
		refs = append(refs, ir)
	}
	return refs, nil
}

// FetchRemoteMetadata returns the metadata file of ref as published by remote.
func (c *cliInstallation) FetchRemoteMetadata(ctx context.Context, remote string, ref Ref) ([]byte, error) {
	out, err := c.output(ctx, "remote-info", "--show-metadata", remote, ref.String())
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// FetchRemoteSize returns the download and installed size of ref on remote.
func (c *cliInstallation) FetchRemoteSize(ctx context.Context, remote string, ref Ref) (uint64, uint64, error) {
	out, err := c.output(ctx, "remote-info", remote, ref.String())
	if err != nil {
		return 0, 0, err
	}
	download, installed := parseRemoteInfoSizes(out)
	if download == 0 && installed == 0 {
		return 0, 0, fmt.Errorf("no size information for %s on %s", ref, remote)
	}
	return download, installed, nil
}

// Install installs ref from remote.
func (c *cliInstallation) Install(ctx context.Context, remote string, ref Ref, progress ProgressFunc) error {
	return c.exec.Run(ctx, progressLines(progress), binary,
		"install", c.scopeFlag(), "-y", "--noninteractive", remote, ref.String())
}

// Update updates ref to the latest commit of its origin.
func (c *cliInstallation) Update(ctx context.Context, ref Ref, progress ProgressFunc) error {
	return c.exec.Run(ctx, progressLines(progress), binary,
		"update", c.scopeFlag(), "-y", "--noninteractive", ref.String())
}

// Uninstall removes ref.
func (c *cliInstallation) Uninstall(ctx context.Context, ref Ref, progress ProgressFunc) error {
	return c.exec.Run(ctx, progressLines(progress), binary,
		"uninstall", c.scopeFlag(), "-y", "--noninteractive", ref.String())
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// progressLines turns flatpak's non-interactive output into progress updates.
// "Installing 1/2… 45%" and "Updating …" lines are downloads; "Uninstalling" lines are commits.
func progressLines(progress ProgressFunc) func(string) {
	if progress == nil {
		return nil
	}
	return func(line string) {
		m := percentPattern.FindStringSubmatch(line)
		if m == nil {
			return
		}
		p, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		phase := PhaseDownloading
		if strings.HasPrefix(line, "Uninstalling") || p >= 100 {
			phase = PhaseCommitting
		}
		progress(phase, p)
	}
}

// columns splits tab-separated tool output into rows.
func columns(out string) [][]string {
	var rows [][]string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		rows = append(rows, fields)
	}
	return rows
}

func parseRefList(out string) []InstalledRef {
	var refs []InstalledRef
	for _, fields := range columns(out) {
		ref, err := ParseRef(fields[0])
		if err != nil {
			continue
		}
		ir := InstalledRef{Ref: ref}
		if len(fields) > 1 {
			ir.Origin = fields[1]
		}
		if len(fields) > 2 {
			ir.Commit = fields[2]
		}
		if len(fields) > 3 {
			ir.Version = fields[3]
		}
		if len(fields) > 4 {
			ir.InstalledSize = parseSize(fields[4])
		}
		refs = append(refs, ir)
	}
	return refs
}

// parseRemoteInfoSizes reads the "Download:" and "Installed:" lines of flatpak remote-info.
func parseRemoteInfoSizes(out string) (download, installed uint64) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Download":
			download = parseSize(value)
		case "Installed":
			installed = parseSize(value)
		}
	}
	return download, installed
}

// parseSize parses sizes like "1.2 MB", including the no-break space GLib puts before the unit.
// Unparseable values count as unknown.
func parseSize(s string) uint64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	if s == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return n
}
