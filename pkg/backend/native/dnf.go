package native

import (
	"bufio"
	"context"
	"strconv"
	"strings"
)

// DNF drives Fedora/RHEL's dnf and rpm.
type DNF struct {
	baseTool
}

// NewDNF creates the dnf tool.
func NewDNF(run Runner) *DNF {
	return &DNF{baseTool{name: "dnf", displayName: "DNF (Fedora/RHEL)", binary: "dnf", run: run}}
}

const rpmFormat = "%{NAME}\t%{VERSION}-%{RELEASE}\t%{ARCH}\t%{SIZE}\t%{SUMMARY}\n"

// ListInstalled lists packages from the rpm database.
func (d *DNF) ListInstalled(ctx context.Context) ([]Package, error) {
	out, err := d.run.Output(ctx, "rpm", "-qa", "--queryformat", rpmFormat)
	if err != nil {
		return nil, err
	}
	return parseRPMQuery(out), nil
}

func parseRPMQuery(out string) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 4 || fields[0] == "" {
			continue
		}
		// gpg-pubkey entries are keys, not packages
		if fields[0] == "gpg-pubkey" {
			continue
		}
		p := Package{Name: fields[0], Version: fields[1], Arch: fields[2], Installed: true}
		if n, err := strconv.ParseUint(fields[3], 10, 64); err == nil {
			p.Size = n
		}
		if len(fields) > 4 {
			p.Summary = fields[4]
		}
		pkgs = append(pkgs, p)
	}
	return pkgs
}

// checkUpdateAvailable is the exit status of "dnf check-update" when updates exist.
const checkUpdateAvailable = 100

// ListUpgradable lists installed packages with a newer version in the repositories.
func (d *DNF) ListUpgradable(ctx context.Context) ([]Package, error) {
	out, err := d.run.Output(ctx, d.binary, "check-update", "-q")
	if err != nil {
		if exitCode(err) != checkUpdateAvailable {
			return nil, err
		}
	}
	return parseCheckUpdate(out), nil
}

// parseCheckUpdate parses "vim-enhanced.x86_64   2:9.1.031-1.fc40   updates" lines.
func parseCheckUpdate(out string) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "Obsoleting") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		name, arch := splitNameArch(fields[0])
		pkgs = append(pkgs, Package{Name: name, Arch: arch, Version: fields[1], Repo: fields[2], Installed: true})
	}
	return pkgs
}

// splitNameArch splits "name.arch" at the last dot.
func splitNameArch(s string) (string, string) {
	i := strings.LastIndex(s, ".")
	if i <= 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// Search matches package names and summaries.
func (d *DNF) Search(ctx context.Context, query string, onPackage func(Package)) error {
	return d.run.Lines(ctx, func(line string) {
		if p, ok := parseDNFSearchLine(line); ok {
			onPackage(p)
		}
	}, d.binary, "search", "-q", query)
}

func parseDNFSearchLine(line string) (Package, bool) {
	if strings.HasPrefix(line, "=") || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "Last metadata") {
		return Package{}, false
	}
	left, summary, ok := strings.Cut(line, " : ")
	if !ok {
		return Package{}, false
	}
	name, arch := splitNameArch(strings.TrimSpace(left))
	return Package{Name: name, Arch: arch, Summary: strings.TrimSpace(summary)}, true
}

// Info shows the newest available version of a package, or the installed one.
func (d *DNF) Info(ctx context.Context, name string) (*Package, error) {
	out, err := d.run.Output(ctx, d.binary, "info", "-q", name)
	if err != nil || strings.TrimSpace(out) == "" {
		return nil, &ToolError{Tool: d.name, Kind: ErrorNotFound, Packages: []string{name}, Err: errOrMissing(err, name)}
	}
	return parseDNFInfo(out), nil
}

func parseDNFInfo(out string) *Package {
	p := &Package{}
	var release string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Installed Packages") {
			p.Installed = true
			continue
		}
		if strings.HasPrefix(line, "Available Packages") && p.Name != "" {
			// the installed section came first and is what we describe
			break
		}
		key, value, ok := strings.Cut(line, " : ")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Name":
			p.Name = strings.TrimSpace(value)
		case "Version":
			p.Version = strings.TrimSpace(value)
		case "Release":
			release = strings.TrimSpace(value)
		case "Architecture", "Arch":
			p.Arch = strings.TrimSpace(value)
		case "Size", "Installed size":
			p.Size = parseSize(value)
		case "Repository", "Repo":
			p.Repo = strings.TrimSpace(value)
		case "Summary":
			p.Summary = strings.TrimSpace(value)
		}
	}
	if release != "" && p.Version != "" {
		p.Version += "-" + release
	}
	return p
}

// IsInstalled asks rpm.
func (d *DNF) IsInstalled(ctx context.Context, name string) (bool, error) {
	_, err := d.run.Output(ctx, "rpm", "-q", name)
	return err == nil, nil
}

// Install installs names.
func (d *DNF) Install(ctx context.Context, names []string, onLine func(string)) error {
	return d.sudo(ctx, onLine, append([]string{"install", "-y"}, names...)...)
}

// Remove removes names.
func (d *DNF) Remove(ctx context.Context, names []string, onLine func(string)) error {
	return d.sudo(ctx, onLine, append([]string{"remove", "-y"}, names...)...)
}

// Upgrade upgrades names, or everything when names is empty.
func (d *DNF) Upgrade(ctx context.Context, names []string, onLine func(string)) error {
	return d.sudo(ctx, onLine, append([]string{"upgrade", "-y"}, names...)...)
}

// Refresh rebuilds the metadata cache.
func (d *DNF) Refresh(ctx context.Context) error {
	return d.sudo(ctx, nil, "makecache")
}

func (d *DNF) sudo(ctx context.Context, onLine func(string), args ...string) error {
	tee, out := capture(onLine)
	err := d.run.RunSudo(ctx, tee, d.binary, args...)
	return classify(d.name, out.String(), err)
}
