package database

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned by single-row lookups that find nothing. Callers
// use errors.Is against this sentinel rather than comparing to sql.ErrNoRows
// directly, so the storage engine underneath Store stays swappable.
var ErrNotFound = xerrors.New("database: not found")

// Store is the typed facade every other component in this module depends
// on. It performs no cross-row transactions: callers that need atomicity
// across multiple calls (there are none in this module — see maintenance's
// per-activity algorithm) would need to add it explicitly.
type Store interface {
	// Migrate applies any pending schema migrations. Safe to call on an
	// already-migrated database.
	Migrate(ctx context.Context) error
	Close() error

	PackageSelectAll(ctx context.Context) ([]Package, error)
	PackageSelectByNameAndVersion(ctx context.Context, name string, version int64) (Package, error)
	// PackageGetOrCreate is the write path the event router uses when a
	// launch arrives for a (name, version) pair never seen before.
	PackageGetOrCreate(ctx context.Context, name string, version int64) (Package, error)

	ActivitySelectByPackageID(ctx context.Context, packageID uuid.UUID) ([]Activity, error)
	ActivitySelectByNameAndPackageID(ctx context.Context, name string, packageID uuid.UUID) (Activity, error)
	ActivityGetOrCreate(ctx context.Context, name string, packageID uuid.UUID) (Activity, error)

	// LaunchHistorySelectActivityHistoryForCompile returns the histories
	// eligible to be compiled for an activity. Eligibility policy lives
	// entirely in the storage layer; callers must not filter further.
	LaunchHistorySelectActivityHistoryForCompile(ctx context.Context, activityID uuid.UUID) ([]LaunchHistory, error)
	LaunchHistoryInsert(ctx context.Context, activityID uuid.UUID, reportFullyDrawnNs, totalTimeNs *int64) (LaunchHistory, error)

	RawTraceSelectByHistoryID(ctx context.Context, historyID uuid.UUID) (RawTrace, error)
	// RawTraceInsert is at-most-one per history id; inserting a second raw
	// trace for the same history is a caller bug and returns ErrConflict.
	RawTraceInsert(ctx context.Context, historyID uuid.UUID, filePath string) (RawTrace, error)

	PrefetchFileInsert(ctx context.Context, activityID uuid.UUID, filePath string) (PrefetchFile, error)
	PrefetchFileSelectByVersionedComponentName(ctx context.Context, packageName, activityName string, version int64) (PrefetchFile, error)
}

// ErrConflict is returned when a write would violate a uniqueness invariant
// (e.g. a second raw trace for one history id).
var ErrConflict = xerrors.New("database: conflict")
