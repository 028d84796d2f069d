// Package database defines the persistent store used by the maintenance
// controller, the event router, and the package-version cache. It is a
// facade: callers depend on the Store interface, never on the storage
// engine underneath it.
package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Package is a named, versioned unit installed on the device. Uniqueness is
// enforced on (Name, Version) by the storage layer.
type Package struct {
	ID      uuid.UUID
	Name    string
	Version int64
}

// Activity is a named sub-entity of a Package, roughly one screen or entry
// point. Uniqueness is enforced on (Name, PackageID).
type Activity struct {
	ID        uuid.UUID
	Name      string
	PackageID uuid.UUID
}

// LaunchHistory is a single observed app launch. ReportFullyDrawnNs and
// TotalTimeNs are both optional; their presence determines the effective
// timestamp limit used at compile time.
type LaunchHistory struct {
	ID                 uuid.UUID
	ActivityID         uuid.UUID
	ReportFullyDrawnNs sql.NullInt64
	TotalTimeNs        sql.NullInt64
}

// RawTrace is a captured I/O trace file referenced from a LaunchHistory.
// At most one exists per HistoryID.
type RawTrace struct {
	HistoryID uuid.UUID
	FilePath  string
}

// PrefetchFile is the compiled artifact produced for an Activity.
type PrefetchFile struct {
	ID         uuid.UUID
	ActivityID uuid.UUID
	FilePath   string
	CreatedAt  time.Time
}
