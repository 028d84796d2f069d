// Package packageversion memoizes each installed package's version against
// a remote package manager, refilling on demand and refreshing in full on
// request.
package packageversion

import (
	"context"
	"sync"

	"cdr.dev/slog"
	"golang.org/x/xerrors"
)

// UnknownVersion is the sentinel returned when neither the cache nor an
// on-demand query can resolve a package's version.
const UnknownVersion int64 = -1

// ErrPackageManagerUnavailable is fatal to Create: the remote package
// manager must be reachable at startup.
var ErrPackageManagerUnavailable = xerrors.New("packageversion: package manager unavailable")

// PackageManager is the remote collaborator this cache memoizes against. It
// is an interface so tests substitute a fake instead of a real package
// manager binder client, mirroring how provisionerd.Dialer makes the daemon
// connection swappable.
type PackageManager interface {
	// Snapshot returns every installed package's version, keyed by name.
	Snapshot(ctx context.Context) (map[string]int64, error)
	// QueryVersion resolves a single package on demand. ok is false when
	// the package manager has no record of the package at all (not an
	// error by itself).
	QueryVersion(ctx context.Context, name string) (version int64, ok bool, err error)
}

// Cache memoizes installed-package versions. All three operations are
// serialized by a single mutex; the remote query happens while holding it,
// which is fine because this cache only sits on non-latency-critical event
// paths.
type Cache struct {
	mu sync.Mutex

	manager  PackageManager
	versions map[string]int64
	log      slog.Logger
}

// Create takes a full snapshot from the remote package manager. A failure
// here is fatal to the service.
func Create(ctx context.Context, manager PackageManager, log slog.Logger) (*Cache, error) {
	snapshot, err := manager.Snapshot(ctx)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s", ErrPackageManagerUnavailable, err)
	}
	log.Info(ctx, "package version cache created", slog.F("package_count", len(snapshot)))
	return &Cache{
		manager:  manager,
		versions: snapshot,
		log:      log,
	}, nil
}

// Update atomically replaces the cache's contents with a fresh snapshot.
func (c *Cache) Update(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, err := c.manager.Snapshot(ctx)
	if err != nil {
		// A refresh failure is not fatal: the cache keeps serving the
		// stale map it already has.
		c.log.Error(ctx, "package version cache refresh failed", slog.Error(err))
		return xerrors.Errorf("refresh package version cache: %w", err)
	}

	oldSize := len(c.versions)
	c.versions = snapshot
	c.log.Info(ctx, "package version cache updated",
		slog.F("old_size", oldSize),
		slog.F("new_size", len(c.versions)),
	)
	return nil
}

// GetOrQueryPackageVersion returns the cached version for name, or performs
// an on-demand query and writes the result back on success. Returns
// UnknownVersion when neither the cache nor the on-demand query can resolve
// the package. An on-demand hit is never evicted except by a full Update.
func (c *Cache) GetOrQueryPackageVersion(ctx context.Context, name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if version, ok := c.versions[name]; ok {
		return version
	}

	c.log.Warn(ctx, "package version not cached, querying on demand", slog.F("package_name", name))
	version, ok, err := c.manager.QueryVersion(ctx, name)
	if err != nil {
		c.log.Error(ctx, "on-demand package version query failed", slog.F("package_name", name), slog.Error(err))
		return UnknownVersion
	}
	if !ok {
		c.log.Error(ctx, "package manager has no version for package", slog.F("package_name", name))
		return UnknownVersion
	}

	c.versions[name] = version
	return version
}

// Size returns the number of memoized package versions. Useful for dumps
// and tests; not part of the spec's three-operation contract.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.versions)
}
