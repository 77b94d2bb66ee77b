package packagekit

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	busName       = "org.freedesktop.PackageKit"
	rootPath      = dbus.ObjectPath("/org/freedesktop/PackageKit")
	rootIface     = "org.freedesktop.PackageKit"
	txIface       = "org.freedesktop.PackageKit.Transaction"
	propsChanged  = "org.freedesktop.DBus.Properties.PropertiesChanged"
	cancelTimeout = 5 * time.Second
)

// busDaemon talks to packagekitd over D-Bus. Every call creates one daemon transaction and waits
// for its Finished signal.
type busDaemon struct {
	conn *dbus.Conn
}

var _ Daemon = (*busDaemon)(nil)

// Connect opens the bus ("system" or "session") and checks that the daemon answers.
func Connect(ctx context.Context, bus string) (Daemon, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch bus {
	case "", "system":
		conn, err = dbus.ConnectSystemBus()
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s bus: %w", bus, err)
	}

	var version uint32
	call := conn.Object(busName, rootPath).CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, rootIface, "VersionMajor")
	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		conn.Close()
		return nil, fmt.Errorf("packagekit daemon not reachable: %w", err)
	}
	if n, ok := v.Value().(uint32); ok {
		version = n
	}
	if version < 1 {
		conn.Close()
		return nil, fmt.Errorf("unsupported packagekit version %d", version)
	}
	return &busDaemon{conn: conn}, nil
}

func (d *busDaemon) Close() error { return d.conn.Close() }

// handlers receive the signals of one transaction. Nil handlers ignore the signal.
type handlers struct {
	pkg      func(Package)
	details  func(Details)
	progress ProgressFunc
}

func (d *busDaemon) run(ctx context.Context, method string, h handlers, args ...any) error {
	var path dbus.ObjectPath
	if err := d.conn.Object(busName, rootPath).CallWithContext(ctx, rootIface+".CreateTransaction", 0).Store(&path); err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}

	match := []dbus.MatchOption{dbus.WithMatchObjectPath(path)}
	if err := d.conn.AddMatchSignal(match...); err != nil {
		return fmt.Errorf("subscribe %s: %w", path, err)
	}
	defer d.conn.RemoveMatchSignal(match...)

	signals := make(chan *dbus.Signal, 64)
	d.conn.Signal(signals)
	defer d.conn.RemoveSignal(signals)

	tx := d.conn.Object(busName, path)
	if call := tx.CallWithContext(ctx, txIface+"."+method, 0, args...); call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}

	var (
		daemonErr *DaemonError
		status    Status
		percent   = percentUnknown
	)
	for {
		select {
		case <-ctx.Done():
			cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			tx.CallWithContext(cctx, txIface+".Cancel", 0)
			cancel()
			return ctx.Err()

		case sig, ok := <-signals:
			if !ok {
				return ErrDisconnected
			}
			if sig.Path != path {
				continue
			}
			switch sig.Name {
			case txIface + ".Package":
				var p Package
				var info uint32
				if err := dbus.Store(sig.Body, &info, &p.ID, &p.Summary); err != nil || h.pkg == nil {
					continue
				}
				p.Info = Info(info)
				h.pkg(p)

			case txIface + ".Details":
				var data map[string]dbus.Variant
				if err := dbus.Store(sig.Body, &data); err != nil || h.details == nil {
					continue
				}
				h.details(detailsFrom(data))

			case txIface + ".ErrorCode":
				var code uint32
				var msg string
				if err := dbus.Store(sig.Body, &code, &msg); err == nil {
					daemonErr = &DaemonError{Code: code, Message: msg}
				}

			case propsChanged:
				var iface string
				var changed map[string]dbus.Variant
				var invalidated []string
				if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != txIface {
					continue
				}
				if v, ok := changed["Status"]; ok {
					if n, ok := v.Value().(uint32); ok {
						status = Status(n)
					}
				}
				if v, ok := changed["Percentage"]; ok {
					if n, ok := v.Value().(uint32); ok {
						percent = int(n)
					}
				}
				if h.progress != nil && percent != percentUnknown {
					h.progress(status, percent)
				}

			case txIface + ".Finished":
				var exit, runtime uint32
				if err := dbus.Store(sig.Body, &exit, &runtime); err != nil {
					return fmt.Errorf("%s: malformed Finished signal: %w", method, err)
				}
				switch Exit(exit) {
				case ExitSuccess:
					return nil
				case ExitCancelled:
					return ErrCancelled
				}
				if daemonErr != nil {
					return daemonErr
				}
				return fmt.Errorf("%s: transaction exited with code %d", method, exit)
			}
		}
	}
}

func detailsFrom(data map[string]dbus.Variant) Details {
	str := func(key string) string {
		if v, ok := data[key]; ok {
			if s, ok := v.Value().(string); ok {
				return s
			}
		}
		return ""
	}
	d := Details{
		PackageID:   str("package-id"),
		Summary:     str("summary"),
		Description: str("description"),
		URL:         str("url"),
		License:     str("license"),
	}
	if v, ok := data["size"]; ok {
		if n, ok := v.Value().(uint64); ok {
			d.Size = n
		}
	}
	return d
}

func (d *busDaemon) GetPackages(ctx context.Context, filter Filter, onPackage func(Package)) error {
	return d.run(ctx, "GetPackages", handlers{pkg: onPackage}, uint64(filter))
}

func (d *busDaemon) SearchNames(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error {
	return d.run(ctx, "SearchNames", handlers{pkg: onPackage}, uint64(filter), terms)
}

func (d *busDaemon) SearchDetails(ctx context.Context, filter Filter, terms []string, onPackage func(Package)) error {
	return d.run(ctx, "SearchDetails", handlers{pkg: onPackage}, uint64(filter), terms)
}

func (d *busDaemon) Resolve(ctx context.Context, filter Filter, names []string, onPackage func(Package)) error {
	return d.run(ctx, "Resolve", handlers{pkg: onPackage}, uint64(filter), names)
}

func (d *busDaemon) GetDetails(ctx context.Context, ids []string, onDetails func(Details)) error {
	return d.run(ctx, "GetDetails", handlers{details: onDetails}, ids)
}

func (d *busDaemon) GetUpdates(ctx context.Context, filter Filter, onPackage func(Package)) error {
	return d.run(ctx, "GetUpdates", handlers{pkg: onPackage}, uint64(filter))
}

func (d *busDaemon) RefreshCache(ctx context.Context, force bool) error {
	return d.run(ctx, "RefreshCache", handlers{}, force)
}

func (d *busDaemon) InstallPackages(ctx context.Context, ids []string, progress ProgressFunc) error {
	return d.run(ctx, "InstallPackages", handlers{progress: progress}, transactionFlagOnlyTrusted, ids)
}

func (d *busDaemon) RemovePackages(ctx context.Context, ids []string, autoremove bool, progress ProgressFunc) error {
	return d.run(ctx, "RemovePackages", handlers{progress: progress}, transactionFlagOnlyTrusted, ids, false, autoremove)
}

func (d *busDaemon) UpdatePackages(ctx context.Context, ids []string, progress ProgressFunc) error {
	return d.run(ctx, "UpdatePackages", handlers{progress: progress}, transactionFlagOnlyTrusted, ids)
}
