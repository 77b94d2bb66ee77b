package native

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// OSReleasePath is where the distribution describes itself.
const OSReleasePath = "/etc/os-release"

// Distro is what os-release says about the running system.
type Distro struct {
	ID         string
	IDLike     []string
	VersionID  string
	PrettyName string
}

// ErrUnsupportedDistro is returned when no supported tool serves the distribution.
var ErrUnsupportedDistro = errors.New("no supported package tool for this distribution")

// ParseOSRelease parses os-release content. source is a path or the file's bytes.
func ParseOSRelease(source any) (*Distro, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, source)
	if err != nil {
		return nil, fmt.Errorf("parse os-release: %w", err)
	}
	sec := f.Section(ini.DefaultSection)
	return &Distro{
		ID:         strings.ToLower(sec.Key("ID").String()),
		IDLike:     strings.Fields(strings.ToLower(sec.Key("ID_LIKE").String())),
		VersionID:  sec.Key("VERSION_ID").String(),
		PrettyName: sec.Key("PRETTY_NAME").String(),
	}, nil
}

// DetectDistro reads OSReleasePath.
func DetectDistro() (*Distro, error) {
	return ParseOSRelease(OSReleasePath)
}

var distroTools = map[string]string{
	"debian":     "apt",
	"ubuntu":     "apt",
	"linuxmint":  "apt",
	"pop":        "apt",
	"elementary": "apt",
	"zorin":      "apt",
	"kali":       "apt",
	"neon":       "apt",
	"raspbian":   "apt",

	"fedora":    "dnf",
	"rhel":      "dnf",
	"centos":    "dnf",
	"rocky":     "dnf",
	"almalinux": "dnf",
	"nobara":    "dnf",

	"arch":        "pacman",
	"manjaro":     "pacman",
	"endeavouros": "pacman",
	"garuda":      "pacman",
	"artix":       "pacman",
	"cachyos":     "pacman",
}

// ToolFor returns the tool name for the distribution, checking ID before ID_LIKE.
func (d *Distro) ToolFor() (string, error) {
	if tool, ok := distroTools[d.ID]; ok {
		return tool, nil
	}
	for _, family := range d.IDLike {
		if tool, ok := distroTools[family]; ok {
			return tool, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDistro, d.ID)
}
