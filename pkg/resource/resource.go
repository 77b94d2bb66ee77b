package resource

import (
	"sync"

	"discover/pkg/event"
)

// State is the install state of a resource.
type State int

const (
	StateNone State = iota
	StateInstalling
	StateInstalled
	StateRemoving
	StateUpgradeAvailable
)

// String returns a lower-case name for the state.
func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateRemoving:
		return "removing"
	case StateUpgradeAvailable:
		return "upgradeable"
	}
	return "none"
}

// StateChange is published once for every state transition of a resource.
type StateChange struct {
	Resource *Resource
	Old      State
	New      State
}

// Resource is one installable unit. It is written only by the backend that created it;
// everyone else reads it through the getters or a Snapshot.
type Resource struct {
	mu sync.RWMutex

	id          Identity
	displayName string
	comment     string
	iconPath    string
	arch        string
	commit      string
	version     string
	runtime     string
	appstreamID string

	downloadSize  uint64
	installedSize uint64
	size          uint64

	state State
	seq   uint64

	stateBus *event.Bus[StateChange]
}

// New creates a resource with the given identity and state None.
func New(id Identity) *Resource {
	return &Resource{
		id:       id,
		stateBus: event.New[StateChange](),
	}
}

// Identity returns the composite identity.
func (r *Resource) Identity() Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// UniqueID returns the rendered composite identity.
func (r *Resource) UniqueID() string {
	return r.Identity().String()
}

// Backend returns the name of the owning backend.
func (r *Resource) Backend() string { return r.Identity().Backend }

// Name returns the technology-level name (flatpak id, package name).
func (r *Resource) Name() string { return r.Identity().Name }

// Kind returns the resource kind.
func (r *Resource) Kind() Kind { return r.Identity().Kind }

// Scope returns the scope.
func (r *Resource) Scope() Scope { return r.Identity().Scope }

// Origin returns the remote or repository the resource comes from.
func (r *Resource) Origin() string { return r.Identity().Origin }

// Branch returns the branch.
func (r *Resource) Branch() string { return r.Identity().Branch }

// DisplayName returns the human readable name, falling back to Name.
func (r *Resource) DisplayName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.displayName == "" {
		return r.id.Name
	}
	return r.displayName
}

// Comment returns the one-line summary.
func (r *Resource) Comment() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.comment
}

// IconPath returns the directory or file the icon is loaded from.
func (r *Resource) IconPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.iconPath
}

// Arch returns the architecture, empty when unknown.
func (r *Resource) Arch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arch
}

// Commit returns the installed or available commit.
func (r *Resource) Commit() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.commit
}

// Version returns the human readable version.
func (r *Resource) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Runtime returns the runtime reference in name/arch/branch form.
func (r *Resource) Runtime() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime
}

// AppstreamID returns the AppStream component id, if any.
func (r *Resource) AppstreamID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appstreamID
}

// DownloadSize returns the download size in bytes, zero when unknown.
func (r *Resource) DownloadSize() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloadSize
}

// InstalledSize returns the on-disk size in bytes, zero when unknown.
func (r *Resource) InstalledSize() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installedSize
}

// Size returns the effective size shown to the user, zero while unresolved.
func (r *Resource) Size() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// State returns the install state.
func (r *Resource) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsInstalled reports whether the resource is present on the system.
func (r *Resource) IsInstalled() bool {
	switch r.State() {
	case StateInstalled, StateUpgradeAvailable, StateRemoving:
		return true
	}
	return false
}

// Seq returns the discovery order within the owning backend.
func (r *Resource) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// SetSeq records the discovery order. Called by the owning table.
func (r *Resource) SetSeq(seq uint64) {
	r.mu.Lock()
	r.seq = seq
	r.mu.Unlock()
}

// SetIdentity replaces the identity. Only the owning table may call this, while rekeying.
func (r *Resource) SetIdentity(id Identity) {
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
}

// SetDisplayName sets the human readable name.
func (r *Resource) SetDisplayName(name string) {
	r.mu.Lock()
	r.displayName = name
	r.mu.Unlock()
}

// SetComment sets the summary.
func (r *Resource) SetComment(comment string) {
	r.mu.Lock()
	r.comment = comment
	r.mu.Unlock()
}

// SetIconPath sets the icon location.
func (r *Resource) SetIconPath(path string) {
	r.mu.Lock()
	r.iconPath = path
	r.mu.Unlock()
}

// SetArch sets the architecture.
func (r *Resource) SetArch(arch string) {
	r.mu.Lock()
	r.arch = arch
	r.mu.Unlock()
}

// SetRuntime sets the runtime reference (name/arch/branch).
func (r *Resource) SetRuntime(runtime string) {
	r.mu.Lock()
	r.runtime = runtime
	r.mu.Unlock()
}

// SetAppstreamID sets the AppStream component id.
func (r *Resource) SetAppstreamID(id string) {
	r.mu.Lock()
	r.appstreamID = id
	r.mu.Unlock()
}

// SetCommit sets the commit. A change from one known commit to another invalidates all sizes.
func (r *Resource) SetCommit(commit string) {
	r.mu.Lock()
	if r.commit != "" && commit != "" && r.commit != commit {
		r.resetSizesLocked()
	}
	r.commit = commit
	r.mu.Unlock()
}

// SetVersion sets the version. A change from one known version to another invalidates all sizes.
func (r *Resource) SetVersion(version string) {
	r.mu.Lock()
	if r.version != "" && version != "" && r.version != version {
		r.resetSizesLocked()
	}
	r.version = version
	r.mu.Unlock()
}

// SetDownloadSize records the download size. Zero never overwrites a known value.
func (r *Resource) SetDownloadSize(n uint64) {
	r.mu.Lock()
	if n > 0 {
		r.downloadSize = n
	}
	r.mu.Unlock()
}

// SetInstalledSize records the on-disk size. Zero never overwrites a known value.
func (r *Resource) SetInstalledSize(n uint64) {
	r.mu.Lock()
	if n > 0 {
		r.installedSize = n
	}
	r.mu.Unlock()
}

// SetSize records the effective size. Once positive, it only changes to another positive value.
func (r *Resource) SetSize(n uint64) {
	r.mu.Lock()
	if n > 0 {
		r.size = n
	}
	r.mu.Unlock()
}

// ResetSize forgets all sizes so the next refresh recomputes them.
func (r *Resource) ResetSize() {
	r.mu.Lock()
	r.resetSizesLocked()
	r.mu.Unlock()
}

func (r *Resource) resetSizesLocked() {
	r.size = 0
	r.downloadSize = 0
	r.installedSize = 0
}

// SetState changes the install state and notifies state subscribers if it changed.
func (r *Resource) SetState(s State) {
	r.mu.Lock()
	old := r.state
	r.state = s
	r.mu.Unlock()

	if old != s {
		r.stateBus.Publish(StateChange{Resource: r, Old: old, New: s})
	}
}

// OnStateChanged subscribes to state changes and returns an unsubscribe function.
func (r *Resource) OnStateChanged(h func(StateChange)) func() {
	return r.stateBus.Subscribe(h)
}

// MergeMetadata copies descriptive fields that src knows and r does not. Identity, state and
// sizes are left alone; they are owned by the installed-state and size passes.
func (r *Resource) MergeMetadata(src *Resource) {
	if src == nil || src == r {
		return
	}
	s := src.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s.DisplayName != "" && s.DisplayName != s.Name {
		r.displayName = s.DisplayName
	}
	if s.Comment != "" {
		r.comment = s.Comment
	}
	if s.IconPath != "" && r.iconPath == "" {
		r.iconPath = s.IconPath
	}
	if s.Arch != "" && r.arch == "" {
		r.arch = s.Arch
	}
	if s.Runtime != "" {
		r.runtime = s.Runtime
	}
	if s.AppstreamID != "" {
		r.appstreamID = s.AppstreamID
	}
}
