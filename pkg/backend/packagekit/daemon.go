// Package packagekit adapts the PackageKit daemon to the backend contract.
package packagekit

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Info classifies a package reported by the daemon.
type Info uint32

const (
	InfoUnknown   Info = 0
	InfoInstalled Info = 1
	InfoAvailable Info = 2
	InfoLow       Info = 3
	InfoEnhance   Info = 4
	InfoNormal    Info = 5
	InfoBugfix    Info = 6
	InfoImportant Info = 7
	InfoSecurity  Info = 8
)

// Filter restricts which packages a query reports. Values are bit flags.
type Filter uint64

const (
	FilterNone         Filter = 1 << 1
	FilterInstalled    Filter = 1 << 2
	FilterNotInstalled Filter = 1 << 3
	FilterNewest       Filter = 1 << 16
	FilterArch         Filter = 1 << 18
)

// Status is the phase a daemon transaction reports.
type Status uint32

const (
	StatusUnknown  Status = 0
	StatusRemove   Status = 6
	StatusDownload Status = 8
	StatusInstall  Status = 9
	StatusUpdate   Status = 10
	StatusCommit   Status = 16
	StatusFinished Status = 18
	StatusCancel   Status = 19
)

// Exit is how a daemon transaction ended.
type Exit uint32

const (
	ExitUnknown   Exit = 0
	ExitSuccess   Exit = 1
	ExitFailed    Exit = 2
	ExitCancelled Exit = 3
)

// transactionFlagOnlyTrusted refuses unsigned packages.
const transactionFlagOnlyTrusted uint64 = 1 << 1

// percentUnknown is what the daemon reports when it cannot estimate progress.
const percentUnknown = 101

// Package is one package row emitted by a query.
type Package struct {
	Info    Info
	ID      string
	Summary string
}

// Details is the extended description of a package.
type Details struct {
	PackageID   string
	Summary     string
	Description string
	URL         string
	License     string
	Size        uint64
}

// PackageID is the split form of "name;version;arch;data".
type PackageID struct {
	Name    string
	Version string
	Arch    string
	Data    string
}

// ParsePackageID splits a daemon package id.
func ParsePackageID(id string) (PackageID, error) {
	parts := strings.Split(id, ";")
	if len(parts) != 4 || parts[0] == "" {
		return PackageID{}, fmt.Errorf("invalid package id %q", id)
	}
	return PackageID{Name: parts[0], Version: parts[1], Arch: parts[2], Data: parts[3]}, nil
}

// String joins the id back.
func (p PackageID) String() string {
	return strings.Join([]string{p.Name, p.Version, p.Arch, p.Data}, ";")
}

// Repo returns the repository the id refers to. Installed packages carry "installed" or
// "installed:<repo>" in their data field.
func (p PackageID) Repo() string {
	data := p.Data
	if rest, ok := strings.CutPrefix(data, "installed"); ok {
		data = strings.TrimPrefix(rest, ":")
	}
	if data == "" {
		return "local"
	}
	return data
}

// ProgressFunc receives status and percentage changes of a running transaction.
type ProgressFunc func(status Status, percent int)

// Daemon is the native surface the adapter drives. Results are delivered through callbacks on the
// caller's goroutine before the method returns. Cancelling ctx cancels the daemon transaction.
type Daemon interface {
	GetPackages(ctx context.Context, filter Filter, onPackage func(Package)) error
	SearchNames(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error
	SearchDetails(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error
	Resolve(ctx context.Context, filter Filter, names []string, onPackage func(Package)) error
	GetDetails(ctx context.Context, ids []string, onDetails func(Details)) error
	GetUpdates(ctx context.Context, filter Filter, onPackage func(Package)) error
	RefreshCache(ctx context.Context, force bool) error

	InstallPackages(ctx context.Context, ids []string, progress ProgressFunc) error
	RemovePackages(ctx context.Context, ids []string, autoremove bool, progress ProgressFunc) error
	UpdatePackages(ctx context.Context, ids []string, progress ProgressFunc) error

	Close() error
}

var (
	// ErrCancelled is returned when the daemon reports a cancelled transaction.
	ErrCancelled = errors.New("packagekit transaction cancelled")
	// ErrDisconnected is returned when the bus connection goes away mid-transaction.
	ErrDisconnected = errors.New("packagekit connection lost")
)

// DaemonError carries the ErrorCode signal of a failed transaction.
type DaemonError struct {
	Code    uint32
	Message string
}

func (e *DaemonError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("packagekit error %d", e.Code)
	}
	return fmt.Sprintf("packagekit error %d: %s", e.Code, e.Message)
}
