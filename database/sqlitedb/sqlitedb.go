// Package sqlitedb is the production database.Store implementation: a
// single SQLite file opened-or-created at a path, migrated with
// golang-migrate, and queried with sqlx.
package sqlitedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"github.com/iorap/iorap-core/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type store struct {
	path string
	db   *sqlx.DB
}

// Open opens or creates the SQLite database file at path. It does not apply
// the schema; call Migrate for that.
func Open(path string) (database.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, xerrors.Errorf("create db directory %q: %w", dir, err)
		}
	}
	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, xerrors.Errorf("open sqlite db %q: %w", path, err)
	}
	s := &store{path: path, db: sqlx.NewDb(sqlDB, "sqlite3")}
	return s, nil
}

func (s *store) Migrate(_ context.Context) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return xerrors.Errorf("load migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db.DB, &sqlite3.Config{})
	if err != nil {
		return xerrors.Errorf("wrap migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return xerrors.Errorf("construct migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return xerrors.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) PackageSelectAll(ctx context.Context) ([]database.Package, error) {
	var rows []packageRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, version FROM packages ORDER BY name`); err != nil {
		return nil, xerrors.Errorf("select all packages: %w", err)
	}
	out := make([]database.Package, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *store) PackageSelectByNameAndVersion(ctx context.Context, name string, version int64) (database.Package, error) {
	var r packageRow
	err := s.db.GetContext(ctx, &r, `SELECT id, name, version FROM packages WHERE name = ? AND version = ?`, name, version)
	if errors.Is(err, sql.ErrNoRows) {
		return database.Package{}, database.ErrNotFound
	}
	if err != nil {
		return database.Package{}, xerrors.Errorf("select package by name+version: %w", err)
	}
	return r.toModel(), nil
}

func (s *store) PackageGetOrCreate(ctx context.Context, name string, version int64) (database.Package, error) {
	if existing, err := s.PackageSelectByNameAndVersion(ctx, name, version); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return database.Package{}, err
	}
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `INSERT INTO packages (id, name, version) VALUES (?, ?, ?)`, id.String(), name, version)
	if err != nil {
		return database.Package{}, xerrors.Errorf("insert package: %w", err)
	}
	return database.Package{ID: id, Name: name, Version: version}, nil
}

func (s *store) ActivitySelectByPackageID(ctx context.Context, packageID uuid.UUID) ([]database.Activity, error) {
	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, name, package_id FROM activities WHERE package_id = ? ORDER BY name`, packageID.String()); err != nil {
		return nil, xerrors.Errorf("select activities by package id: %w", err)
	}
	out := make([]database.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *store) ActivitySelectByNameAndPackageID(ctx context.Context, name string, packageID uuid.UUID) (database.Activity, error) {
	var r activityRow
	err := s.db.GetContext(ctx, &r, `SELECT id, name, package_id FROM activities WHERE name = ? AND package_id = ?`, name, packageID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return database.Activity{}, database.ErrNotFound
	}
	if err != nil {
		return database.Activity{}, xerrors.Errorf("select activity by name+package id: %w", err)
	}
	return r.toModel(), nil
}

func (s *store) ActivityGetOrCreate(ctx context.Context, name string, packageID uuid.UUID) (database.Activity, error) {
	if existing, err := s.ActivitySelectByNameAndPackageID(ctx, name, packageID); err == nil {
		return existing, nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return database.Activity{}, err
	}
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `INSERT INTO activities (id, name, package_id) VALUES (?, ?, ?)`, id.String(), name, packageID.String())
	if err != nil {
		return database.Activity{}, xerrors.Errorf("insert activity: %w", err)
	}
	return database.Activity{ID: id, Name: name, PackageID: packageID}, nil
}

func (s *store) LaunchHistoryInsert(ctx context.Context, activityID uuid.UUID, reportFullyDrawnNs, totalTimeNs *int64) (database.LaunchHistory, error) {
	id := uuid.New()
	h := database.LaunchHistory{ID: id, ActivityID: activityID}
	var reportArg, totalArg interface{}
	if reportFullyDrawnNs != nil {
		h.ReportFullyDrawnNs = sql.NullInt64{Int64: *reportFullyDrawnNs, Valid: true}
		reportArg = *reportFullyDrawnNs
	}
	if totalTimeNs != nil {
		h.TotalTimeNs = sql.NullInt64{Int64: *totalTimeNs, Valid: true}
		totalArg = *totalTimeNs
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO launch_histories (id, activity_id, report_fully_drawn_ns, total_time_ns)
		VALUES (?, ?, ?, ?)`, id.String(), activityID.String(), reportArg, totalArg)
	if err != nil {
		return database.LaunchHistory{}, xerrors.Errorf("insert launch history: %w", err)
	}
	return h, nil
}

func (s *store) RawTraceInsert(ctx context.Context, historyID uuid.UUID, filePath string) (database.RawTrace, error) {
	if _, err := s.RawTraceSelectByHistoryID(ctx, historyID); err == nil {
		return database.RawTrace{}, database.ErrConflict
	} else if !errors.Is(err, database.ErrNotFound) {
		return database.RawTrace{}, err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO raw_traces (history_id, file_path) VALUES (?, ?)`, historyID.String(), filePath)
	if err != nil {
		return database.RawTrace{}, xerrors.Errorf("insert raw trace: %w", err)
	}
	return database.RawTrace{HistoryID: historyID, FilePath: filePath}, nil
}

func (s *store) LaunchHistorySelectActivityHistoryForCompile(ctx context.Context, activityID uuid.UUID) ([]database.LaunchHistory, error) {
	var rows []launchHistoryRow
	// Eligibility is "all observed launches for this activity"; a future
	// schema revision could narrow this (e.g. exclude cold-start outliers)
	// without callers needing to change.
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, activity_id, report_fully_drawn_ns, total_time_ns
		FROM launch_histories WHERE activity_id = ? ORDER BY id`, activityID.String())
	if err != nil {
		return nil, xerrors.Errorf("select launch histories for compile: %w", err)
	}
	out := make([]database.LaunchHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *store) RawTraceSelectByHistoryID(ctx context.Context, historyID uuid.UUID) (database.RawTrace, error) {
	var r rawTraceRow
	err := s.db.GetContext(ctx, &r, `SELECT history_id, file_path FROM raw_traces WHERE history_id = ?`, historyID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return database.RawTrace{}, database.ErrNotFound
	}
	if err != nil {
		return database.RawTrace{}, xerrors.Errorf("select raw trace by history id: %w", err)
	}
	return r.toModel(), nil
}

func (s *store) PrefetchFileInsert(ctx context.Context, activityID uuid.UUID, filePath string) (database.PrefetchFile, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prefetch_files (id, activity_id, file_path, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)`, id.String(), activityID.String(), filePath)
	if err != nil {
		return database.PrefetchFile{}, xerrors.Errorf("insert prefetch file: %w", err)
	}
	var r prefetchFileRow
	if err := s.db.GetContext(ctx, &r, `SELECT id, activity_id, file_path, created_at FROM prefetch_files WHERE id = ?`, id.String()); err != nil {
		return database.PrefetchFile{}, xerrors.Errorf("select inserted prefetch file: %w", err)
	}
	return r.toModel(), nil
}

func (s *store) PrefetchFileSelectByVersionedComponentName(ctx context.Context, packageName, activityName string, version int64) (database.PrefetchFile, error) {
	var r prefetchFileRow
	err := s.db.GetContext(ctx, &r, `
		SELECT pf.id, pf.activity_id, pf.file_path, pf.created_at
		FROM prefetch_files pf
		JOIN activities a ON a.id = pf.activity_id
		JOIN packages p ON p.id = a.package_id
		WHERE p.name = ? AND a.name = ? AND p.version = ?
		ORDER BY pf.created_at DESC
		LIMIT 1`, packageName, activityName, version)
	if errors.Is(err, sql.ErrNoRows) {
		return database.PrefetchFile{}, database.ErrNotFound
	}
	if err != nil {
		return database.PrefetchFile{}, xerrors.Errorf("select prefetch file by versioned component name: %w", err)
	}
	return r.toModel(), nil
}
