package flatpak

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"discover/pkg/resource"
)

const appstreamFile = "appstream.xml.gz"

// component is one entry of an AppStream collection.
type component struct {
	ID       string      `xml:"id"`
	Type     string      `xml:"type,attr"`
	Names    []localized `xml:"name"`
	Summary  []localized `xml:"summary"`
	Bundles  []bundle    `xml:"bundle"`
	Icons    []icon      `xml:"icon"`
	Releases []release   `xml:"releases>release"`
}

type localized struct {
	Attrs []xml.Attr `xml:",any,attr"`
	Text  string     `xml:",chardata"`
}

type bundle struct {
	Type    string `xml:"type,attr"`
	Runtime string `xml:"runtime,attr"`
	Ref     string `xml:",chardata"`
}

type icon struct {
	Type string `xml:"type,attr"`
	Name string `xml:",chardata"`
}

type release struct {
	Version string `xml:"version,attr"`
}

type collection struct {
	Origin     string      `xml:"origin,attr"`
	Components []component `xml:"component"`
}

// untranslated returns the text without an xml:lang attribute, else the first one.
func untranslated(vals []localized) string {
	for _, v := range vals {
		translated := false
		for _, a := range v.Attrs {
			if a.Name.Local == "lang" {
				translated = true
				break
			}
		}
		if !translated {
			return strings.TrimSpace(v.Text)
		}
	}
	if len(vals) > 0 {
		return strings.TrimSpace(vals[0].Text)
	}
	return ""
}

// loadAppstream reads <dir>/appstream.xml.gz of one remote.
func loadAppstream(dir string) ([]component, error) {
	f, err := os.Open(filepath.Join(dir, appstreamFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("appstream: %w", err)
	}
	defer zr.Close()
	return parseAppstream(zr)
}

func parseAppstream(r io.Reader) ([]component, error) {
	var c collection
	if err := xml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("appstream: %w", err)
	}
	return c.Components, nil
}

// candidate turns a component into a resource of the given installation and remote.
// It returns nil for components that are not distributed as flatpaks.
func candidate(c component, scope resource.Scope, origin, iconDir string) *resource.Resource {
	id := resource.Identity{Scope: scope, Backend: Name, Origin: origin}
	var runtime, arch string

	found := false
	for _, b := range c.Bundles {
		if b.Type != "flatpak" {
			continue
		}
		ref, err := ParseRef(b.Ref)
		if err != nil {
			return nil
		}
		id.Kind, id.Name, id.Branch = ref.Kind, ref.Name, ref.Branch
		arch = ref.Arch
		runtime = b.Runtime
		found = true
		break
	}
	if !found {
		// No bundle: identity stays incomplete until an installed ref supplies branch and arch.
		switch c.Type {
		case "desktop", "desktop-application", "":
			id.Kind = resource.KindApp
		case "runtime":
			id.Kind = resource.KindRuntime
		default:
			return nil
		}
		id.Name = strings.TrimSuffix(strings.TrimSpace(c.ID), ".desktop")
	}
	if id.Name == "" {
		return nil
	}

	r := resource.New(id)
	r.SetArch(arch)
	r.SetRuntime(runtime)
	r.SetAppstreamID(strings.TrimSpace(c.ID))
	r.SetDisplayName(untranslated(c.Names))
	r.SetComment(untranslated(c.Summary))
	if len(c.Releases) > 0 {
		r.SetVersion(c.Releases[0].Version)
	}
	if iconDir != "" {
		r.SetIconPath(iconPath(iconDir, c.Icons))
	}
	return r
}

// iconPath prefers a cached icon shipped with the remote's appstream data.
func iconPath(dir string, icons []icon) string {
	for _, ic := range icons {
		if ic.Type == "cached" && ic.Name != "" {
			return filepath.Join(dir, "icons", "128x128", strings.TrimSpace(ic.Name))
		}
	}
	return dir
}
