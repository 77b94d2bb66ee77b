package flatpak

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	desktopGroup     = "Desktop Entry"
	applicationGroup = "Application"
)

// desktopEntry is what an exported .desktop file tells about an installed app.
type desktopEntry struct {
	Name    string
	Display string
	Comment string
	Icon    string
}

func loadINI(source any) (*ini.File, error) {
	return ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, source)
}

// exportsDir is where an installation exports desktop files and icons.
func exportsDir(root string) string {
	return filepath.Join(root, "exports")
}

func applicationsDir(root string) string {
	return filepath.Join(exportsDir(root), "share", "applications")
}

// loadDesktopEntries parses the exported desktop files of an installation. Files that fail to
// parse are reported through skip and ignored.
func loadDesktopEntries(root string, skip func(file string, err error)) ([]desktopEntry, error) {
	dir := applicationsDir(root)
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []desktopEntry
	for _, f := range files {
		if f.IsDir() || f.Name() == "mimeinfo.cache" || !strings.HasSuffix(f.Name(), ".desktop") {
			continue
		}
		e, err := parseDesktopFile(filepath.Join(dir, f.Name()))
		if err != nil {
			if skip != nil {
				skip(f.Name(), err)
			}
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseDesktopFile(path string) (desktopEntry, error) {
	cfg, err := loadINI(path)
	if err != nil {
		return desktopEntry{}, err
	}
	sec, err := cfg.GetSection(desktopGroup)
	if err != nil {
		return desktopEntry{}, fmt.Errorf("%s: no [%s] group", filepath.Base(path), desktopGroup)
	}

	name := sec.Key("X-Flatpak").String()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".desktop")
	}
	return desktopEntry{
		Name:    name,
		Display: sec.Key("Name").String(),
		Comment: sec.Key("Comment").String(),
		Icon:    sec.Key("Icon").String(),
	}, nil
}

// installedMetadataPath is the metadata file of the active deployment of an installed app.
func installedMetadataPath(root string, ref Ref) string {
	return filepath.Join(root, "app", ref.Name, ref.Arch, ref.Branch, "active", "metadata")
}

// runtimeFromMetadata extracts the runtime reference (name/arch/branch) from metadata content.
func runtimeFromMetadata(content []byte) (string, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return "", fmt.Errorf("empty metadata")
	}
	cfg, err := loadINI(content)
	if err != nil {
		return "", fmt.Errorf("parse metadata: %w", err)
	}
	sec, err := cfg.GetSection(applicationGroup)
	if err != nil {
		return "", fmt.Errorf("metadata has no [%s] group", applicationGroup)
	}
	runtime := sec.Key("runtime").String()
	if runtime == "" {
		return "", fmt.Errorf("metadata has no runtime")
	}
	return runtime, nil
}
