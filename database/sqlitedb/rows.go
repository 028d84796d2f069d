package sqlitedb

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iorap/iorap-core/database"
)

// Row types mirror the wire shape sqlite/sqlx hands back (TEXT for UUIDs,
// nullable columns as sql.NullInt64) and convert to the database package's
// plain model structs.

type packageRow struct {
	ID      string `db:"id"`
	Name    string `db:"name"`
	Version int64  `db:"version"`
}

func (r packageRow) toModel() database.Package {
	return database.Package{ID: uuid.MustParse(r.ID), Name: r.Name, Version: r.Version}
}

type activityRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	PackageID string `db:"package_id"`
}

func (r activityRow) toModel() database.Activity {
	return database.Activity{ID: uuid.MustParse(r.ID), Name: r.Name, PackageID: uuid.MustParse(r.PackageID)}
}

type launchHistoryRow struct {
	ID                 string        `db:"id"`
	ActivityID         string        `db:"activity_id"`
	ReportFullyDrawnNs sql.NullInt64 `db:"report_fully_drawn_ns"`
	TotalTimeNs        sql.NullInt64 `db:"total_time_ns"`
}

func (r launchHistoryRow) toModel() database.LaunchHistory {
	return database.LaunchHistory{
		ID:                 uuid.MustParse(r.ID),
		ActivityID:         uuid.MustParse(r.ActivityID),
		ReportFullyDrawnNs: r.ReportFullyDrawnNs,
		TotalTimeNs:        r.TotalTimeNs,
	}
}

type rawTraceRow struct {
	HistoryID string `db:"history_id"`
	FilePath  string `db:"file_path"`
}

func (r rawTraceRow) toModel() database.RawTrace {
	return database.RawTrace{HistoryID: uuid.MustParse(r.HistoryID), FilePath: r.FilePath}
}

type prefetchFileRow struct {
	ID         string    `db:"id"`
	ActivityID string    `db:"activity_id"`
	FilePath   string    `db:"file_path"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r prefetchFileRow) toModel() database.PrefetchFile {
	return database.PrefetchFile{
		ID:         uuid.MustParse(r.ID),
		ActivityID: uuid.MustParse(r.ActivityID),
		FilePath:   r.FilePath,
		CreatedAt:  r.CreatedAt,
	}
}
