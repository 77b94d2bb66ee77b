package native

import (
	"bufio"
	"context"
	"errors"
	"strings"
)

// Pacman drives Arch Linux's pacman.
type Pacman struct {
	baseTool
}

// NewPacman creates the pacman tool.
func NewPacman(run Runner) *Pacman {
	return &Pacman{baseTool{name: "pacman", displayName: "Pacman (Arch Linux)", binary: "pacman", run: run}}
}

// ListInstalled lists the local database.
func (p *Pacman) ListInstalled(ctx context.Context) ([]Package, error) {
	out, err := p.run.Output(ctx, p.binary, "-Q")
	if err != nil {
		return nil, err
	}
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, Package{Name: fields[0], Version: fields[1], Installed: true})
	}
	return pkgs, nil
}

// ListUpgradable lists packages the sync databases have newer versions of.
func (p *Pacman) ListUpgradable(ctx context.Context) ([]Package, error) {
	out, err := p.run.Output(ctx, p.binary, "-Qu")
	if err != nil {
		// -Qu exits 1 when nothing is upgradable
		if strings.TrimSpace(out) == "" && exitCode(err) == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parsePacmanUpgradable(out), nil
}

// parsePacmanUpgradable parses "name old -> new" lines.
func parsePacmanUpgradable(out string) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || fields[2] != "->" {
			continue
		}
		pkgs = append(pkgs, Package{Name: fields[0], Version: fields[3], Installed: true})
	}
	return pkgs
}

// Search streams matches from the sync databases.
func (p *Pacman) Search(ctx context.Context, query string, onPackage func(Package)) error {
	var ps pacmanSearch
	err := p.run.Lines(ctx, func(line string) {
		if pkg, ok := ps.feed(line); ok {
			onPackage(pkg)
		}
	}, p.binary, "-Ss", query)
	if pkg, ok := ps.flush(); ok {
		onPackage(pkg)
	}
	// -Ss exits 1 when nothing matched
	if err != nil && exitCode(err) == 1 {
		return nil
	}
	return err
}

// pacmanSearch parses -Ss output: a "repo/name version [installed]" line followed by an
// indented description.
type pacmanSearch struct {
	pending *Package
}

func (s *pacmanSearch) feed(line string) (Package, bool) {
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		if s.pending == nil {
			return Package{}, false
		}
		pkg := *s.pending
		pkg.Summary = strings.TrimSpace(line)
		s.pending = nil
		return pkg, true
	}

	prev, hadPrev := s.flush()
	fields := strings.Fields(line)
	if len(fields) >= 2 {
		if repo, name, ok := strings.Cut(fields[0], "/"); ok {
			pkg := &Package{Name: name, Repo: repo, Version: fields[1]}
			for _, f := range fields[2:] {
				if strings.HasPrefix(f, "[installed") {
					pkg.Installed = true
				}
			}
			s.pending = pkg
		}
	}
	return prev, hadPrev
}

func (s *pacmanSearch) flush() (Package, bool) {
	if s.pending == nil {
		return Package{}, false
	}
	pkg := *s.pending
	s.pending = nil
	return pkg, true
}

// Info queries the sync databases, then the local one.
func (p *Pacman) Info(ctx context.Context, name string) (*Package, error) {
	out, err := p.run.Output(ctx, p.binary, "-Si", name)
	if err != nil {
		out, err = p.run.Output(ctx, p.binary, "-Qi", name)
		if err != nil {
			return nil, &ToolError{Tool: p.name, Kind: ErrorNotFound, Packages: []string{name}, Err: err}
		}
	}
	pkg := parsePacmanInfo(out)
	if pkg.Name == "" {
		return nil, &ToolError{Tool: p.name, Kind: ErrorNotFound, Packages: []string{name}, Err: errOrMissing(nil, name)}
	}
	return pkg, nil
}

func parsePacmanInfo(out string) *Package {
	pkg := &Package{}
	var download uint64
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			pkg.Name = value
		case "Version":
			pkg.Version = value
		case "Description":
			pkg.Summary = value
		case "Architecture":
			pkg.Arch = value
		case "Repository":
			pkg.Repo = value
		case "Installed Size":
			pkg.Size = parseSize(value)
		case "Download Size":
			download = parseSize(value)
		case "Install Date":
			pkg.Installed = true
		}
	}
	if pkg.Size == 0 {
		pkg.Size = download
	}
	return pkg
}

// IsInstalled asks the local database.
func (p *Pacman) IsInstalled(ctx context.Context, name string) (bool, error) {
	_, err := p.run.Output(ctx, p.binary, "-Qi", name)
	return err == nil, nil
}

// Install installs names, skipping those already up to date.
func (p *Pacman) Install(ctx context.Context, names []string, onLine func(string)) error {
	return p.sudo(ctx, onLine, append([]string{"-S", "--noconfirm", "--needed"}, names...)...)
}

// Remove removes names.
func (p *Pacman) Remove(ctx context.Context, names []string, onLine func(string)) error {
	return p.sudo(ctx, onLine, append([]string{"-R", "--noconfirm"}, names...)...)
}

// Upgrade upgrades names, or the whole system when names is empty.
func (p *Pacman) Upgrade(ctx context.Context, names []string, onLine func(string)) error {
	if len(names) == 0 {
		return p.sudo(ctx, onLine, "-Syu", "--noconfirm")
	}
	return p.sudo(ctx, onLine, append([]string{"-S", "--noconfirm"}, names...)...)
}

// Refresh synchronises the package databases.
func (p *Pacman) Refresh(ctx context.Context) error {
	return p.sudo(ctx, nil, "-Sy")
}

func (p *Pacman) sudo(ctx context.Context, onLine func(string), args ...string) error {
	tee, out := capture(onLine)
	err := p.run.RunSudo(ctx, tee, p.binary, args...)
	return classify(p.name, out.String(), err)
}

// exitCode returns the exit status carried by err, or -1.
func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return -1
}
