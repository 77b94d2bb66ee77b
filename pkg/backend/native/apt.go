package native

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// APT drives Debian/Ubuntu's apt and dpkg.
type APT struct {
	baseTool
}

// NewAPT creates the apt tool.
func NewAPT(run Runner) *APT {
	return &APT{baseTool{name: "apt", displayName: "APT (Debian/Ubuntu)", binary: "apt-get", run: run}}
}

const dpkgFormat = "${Package}\t${Version}\t${Architecture}\t${Installed-Size}\t${db:Status-Abbrev}\t${binary:Summary}\n"

// ListInstalled lists packages dpkg reports as installed.
func (a *APT) ListInstalled(ctx context.Context) ([]Package, error) {
	out, err := a.run.Output(ctx, "dpkg-query", "-W", "-f="+dpkgFormat)
	if err != nil {
		return nil, err
	}
	return parseDpkgQuery(out), nil
}

func parseDpkgQuery(out string) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 5 {
			continue
		}
		// "ii " is installed and configured.
		if !strings.HasPrefix(fields[4], "ii") {
			continue
		}
		p := Package{Name: fields[0], Version: fields[1], Arch: fields[2], Installed: true}
		if kib, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64); err == nil {
			p.Size = kib * 1024
		}
		if len(fields) > 5 {
			p.Summary = strings.TrimSpace(fields[5])
		}
		pkgs = append(pkgs, p)
	}
	return pkgs
}

// ListUpgradable lists installed packages with a newer candidate.
func (a *APT) ListUpgradable(ctx context.Context) ([]Package, error) {
	out, err := a.run.Output(ctx, "apt", "list", "--upgradable")
	if err != nil {
		return nil, err
	}
	return parseAptUpgradable(out), nil
}

// parseAptUpgradable parses lines such as
// "vim/jammy-updates 2:8.2.3995-1ubuntu2.15 amd64 [upgradable from: 2:8.2.3995-1ubuntu2.13]".
func parseAptUpgradable(out string) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "[upgradable from:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name, repo, _ := strings.Cut(fields[0], "/")
		pkgs = append(pkgs, Package{Name: name, Repo: repo, Version: fields[1], Arch: fields[2], Installed: true})
	}
	return pkgs
}

// Search matches package names with apt-cache.
func (a *APT) Search(ctx context.Context, query string, onPackage func(Package)) error {
	return a.run.Lines(ctx, func(line string) {
		name, summary, ok := strings.Cut(line, " - ")
		if !ok {
			return
		}
		onPackage(Package{Name: strings.TrimSpace(name), Summary: strings.TrimSpace(summary)})
	}, "apt-cache", "search", "--names-only", query)
}

// Info shows the candidate version of a package.
func (a *APT) Info(ctx context.Context, name string) (*Package, error) {
	out, err := a.run.Output(ctx, "apt-cache", "show", "--no-all-versions", name)
	if err != nil || strings.TrimSpace(out) == "" {
		return nil, &ToolError{Tool: a.name, Kind: ErrorNotFound, Packages: []string{name}, Err: errOrMissing(err, name)}
	}
	return parseAptShow(out), nil
}

func parseAptShow(out string) *Package {
	p := &Package{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, " ") {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "Package":
			p.Name = value
		case "Version":
			p.Version = value
		case "Architecture":
			p.Arch = value
		case "Description", "Description-en":
			p.Summary = value
		case "Installed-Size":
			if kib, err := strconv.ParseUint(value, 10, 64); err == nil {
				p.Size = kib * 1024
			}
		}
	}
	return p
}

// IsInstalled asks dpkg for the package status.
func (a *APT) IsInstalled(ctx context.Context, name string) (bool, error) {
	out, err := a.run.Output(ctx, "dpkg-query", "-W", "-f=${db:Status-Abbrev}", name)
	if err != nil {
		// dpkg-query fails for unknown packages
		return false, nil
	}
	return strings.HasPrefix(out, "ii"), nil
}

// Install installs names.
func (a *APT) Install(ctx context.Context, names []string, onLine func(string)) error {
	return a.sudo(ctx, onLine, append([]string{"install", "-y"}, names...)...)
}

// Remove removes names.
func (a *APT) Remove(ctx context.Context, names []string, onLine func(string)) error {
	return a.sudo(ctx, onLine, append([]string{"remove", "-y"}, names...)...)
}

// Upgrade upgrades names, or everything when names is empty.
func (a *APT) Upgrade(ctx context.Context, names []string, onLine func(string)) error {
	if len(names) == 0 {
		return a.sudo(ctx, onLine, "upgrade", "-y")
	}
	return a.sudo(ctx, onLine, append([]string{"install", "--only-upgrade", "-y"}, names...)...)
}

// Refresh updates the package lists.
func (a *APT) Refresh(ctx context.Context) error {
	return a.sudo(ctx, nil, "update")
}

func (a *APT) sudo(ctx context.Context, onLine func(string), args ...string) error {
	tee, out := capture(onLine)
	err := a.run.RunSudo(ctx, tee, a.binary, args...)
	return classify(a.name, out.String(), err)
}

func errOrMissing(err error, name string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("no package %s", name)
}
