// Package databasefake provides an in-memory implementation of
// database.Store for unit tests: a slice-of-structs fake querier over
// packages, activities, launch histories, raw traces and prefetch files.
package databasefake

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iorap/iorap-core/database"
)

// New returns an in-memory database.Store. It requires no migration and no
// filesystem access.
func New() database.Store {
	return &fakeStore{}
}

type fakeStore struct {
	mu sync.Mutex

	packages      []database.Package
	activities    []database.Activity
	histories     []database.LaunchHistory
	rawTraces     []database.RawTrace
	prefetchFiles []database.PrefetchFile
}

func (q *fakeStore) Migrate(_ context.Context) error { return nil }
func (q *fakeStore) Close() error                    { return nil }

func (q *fakeStore) PackageSelectAll(_ context.Context) ([]database.Package, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]database.Package, len(q.packages))
	copy(out, q.packages)
	return out, nil
}

func (q *fakeStore) PackageSelectByNameAndVersion(_ context.Context, name string, version int64) (database.Package, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.packages {
		if p.Name == name && p.Version == version {
			return p, nil
		}
	}
	return database.Package{}, database.ErrNotFound
}

func (q *fakeStore) PackageGetOrCreate(_ context.Context, name string, version int64) (database.Package, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.packages {
		if p.Name == name && p.Version == version {
			return p, nil
		}
	}
	p := database.Package{ID: uuid.New(), Name: name, Version: version}
	q.packages = append(q.packages, p)
	return p, nil
}

func (q *fakeStore) ActivitySelectByPackageID(_ context.Context, packageID uuid.UUID) ([]database.Activity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []database.Activity
	for _, a := range q.activities {
		if a.PackageID == packageID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (q *fakeStore) ActivitySelectByNameAndPackageID(_ context.Context, name string, packageID uuid.UUID) (database.Activity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.activities {
		if a.Name == name && a.PackageID == packageID {
			return a, nil
		}
	}
	return database.Activity{}, database.ErrNotFound
}

func (q *fakeStore) ActivityGetOrCreate(_ context.Context, name string, packageID uuid.UUID) (database.Activity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.activities {
		if a.Name == name && a.PackageID == packageID {
			return a, nil
		}
	}
	a := database.Activity{ID: uuid.New(), Name: name, PackageID: packageID}
	q.activities = append(q.activities, a)
	return a, nil
}

func (q *fakeStore) LaunchHistoryInsert(_ context.Context, activityID uuid.UUID, reportFullyDrawnNs, totalTimeNs *int64) (database.LaunchHistory, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := database.LaunchHistory{ID: uuid.New(), ActivityID: activityID}
	if reportFullyDrawnNs != nil {
		h.ReportFullyDrawnNs = sql.NullInt64{Int64: *reportFullyDrawnNs, Valid: true}
	}
	if totalTimeNs != nil {
		h.TotalTimeNs = sql.NullInt64{Int64: *totalTimeNs, Valid: true}
	}
	q.histories = append(q.histories, h)
	return h, nil
}

func (q *fakeStore) RawTraceInsert(_ context.Context, historyID uuid.UUID, filePath string) (database.RawTrace, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.rawTraces {
		if t.HistoryID == historyID {
			return database.RawTrace{}, database.ErrConflict
		}
	}
	t := database.RawTrace{HistoryID: historyID, FilePath: filePath}
	q.rawTraces = append(q.rawTraces, t)
	return t, nil
}

func (q *fakeStore) LaunchHistorySelectActivityHistoryForCompile(_ context.Context, activityID uuid.UUID) ([]database.LaunchHistory, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []database.LaunchHistory
	for _, h := range q.histories {
		if h.ActivityID == activityID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (q *fakeStore) RawTraceSelectByHistoryID(_ context.Context, historyID uuid.UUID) (database.RawTrace, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.rawTraces {
		if t.HistoryID == historyID {
			return t, nil
		}
	}
	return database.RawTrace{}, database.ErrNotFound
}

func (q *fakeStore) PrefetchFileInsert(_ context.Context, activityID uuid.UUID, filePath string) (database.PrefetchFile, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	row := database.PrefetchFile{
		ID:         uuid.New(),
		ActivityID: activityID,
		FilePath:   filePath,
		CreatedAt:  time.Now(),
	}
	q.prefetchFiles = append(q.prefetchFiles, row)
	return row, nil
}

func (q *fakeStore) PrefetchFileSelectByVersionedComponentName(_ context.Context, packageName, activityName string, version int64) (database.PrefetchFile, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pkg *database.Package
	for i := range q.packages {
		if q.packages[i].Name == packageName && q.packages[i].Version == version {
			pkg = &q.packages[i]
			break
		}
	}
	if pkg == nil {
		return database.PrefetchFile{}, database.ErrNotFound
	}
	var activity *database.Activity
	for i := range q.activities {
		if q.activities[i].Name == activityName && q.activities[i].PackageID == pkg.ID {
			activity = &q.activities[i]
			break
		}
	}
	if activity == nil {
		return database.PrefetchFile{}, database.ErrNotFound
	}
	// Later inserts win, matching "at-most-one current" with older rows
	// retained historically.
	for i := len(q.prefetchFiles) - 1; i >= 0; i-- {
		if q.prefetchFiles[i].ActivityID == activity.ID {
			return q.prefetchFiles[i], nil
		}
	}
	return database.PrefetchFile{}, database.ErrNotFound
}
