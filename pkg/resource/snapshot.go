package resource

// Snapshot is a read-only projection of a resource handed to presentation code.
type Snapshot struct {
	UniqueID      string `json:"unique_id" yaml:"unique_id"`
	URL           string `json:"url" yaml:"url"`
	Backend       string `json:"backend" yaml:"backend"`
	Scope         string `json:"scope" yaml:"scope"`
	Origin        string `json:"origin" yaml:"origin"`
	Kind          string `json:"kind" yaml:"kind"`
	Name          string `json:"name" yaml:"name"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	Comment       string `json:"comment,omitempty" yaml:"comment,omitempty"`
	IconPath      string `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	Arch          string `json:"arch,omitempty" yaml:"arch,omitempty"`
	Branch        string `json:"branch" yaml:"branch"`
	Commit        string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Version       string `json:"version,omitempty" yaml:"version,omitempty"`
	Runtime       string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	AppstreamID   string `json:"appstream_id,omitempty" yaml:"appstream_id,omitempty"`
	DownloadSize  uint64 `json:"download_size" yaml:"download_size"`
	InstalledSize uint64 `json:"installed_size" yaml:"installed_size"`
	Size          uint64 `json:"size" yaml:"size"`
	State         string `json:"state" yaml:"state"`
}

// Snapshot copies the current values of the resource.
func (r *Resource) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	display := r.displayName
	if display == "" {
		display = r.id.Name
	}

	return Snapshot{
		UniqueID:      r.id.String(),
		URL:           r.id.URL(),
		Backend:       r.id.Backend,
		Scope:         r.id.Scope.String(),
		Origin:        r.id.Origin,
		Kind:          r.id.Kind.String(),
		Name:          r.id.Name,
		DisplayName:   display,
		Comment:       r.comment,
		IconPath:      r.iconPath,
		Arch:          r.arch,
		Branch:        r.id.Branch,
		Commit:        r.commit,
		Version:       r.version,
		Runtime:       r.runtime,
		AppstreamID:   r.appstreamID,
		DownloadSize:  r.downloadSize,
		InstalledSize: r.installedSize,
		Size:          r.size,
		State:         r.state.String(),
	}
}

// Snapshots projects a list of resources.
func Snapshots(rs []*Resource) []Snapshot {
	out := make([]Snapshot, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Snapshot())
	}
	return out
}
