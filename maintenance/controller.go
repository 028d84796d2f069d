// Package maintenance walks the persisted launch history and, for each
// activity with enough evidence, fork/execs the external compiler and
// records the resulting prefetch artifact.
package maintenance

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/iorap/iorap-core/database"
)

// ErrInsufficientEvidence names the condition where fewer than min_traces
// usable histories were found for an activity. Expected for young
// activities, logged at debug rather than error. The controller's entry
// points report it as a false result; no function in this package returns
// this error.
var ErrInsufficientEvidence = xerrors.New("maintenance: insufficient evidence for compilation")

// Controller is the CompilationController: selection, fork/exec, and
// bookkeeping for idle-time trace compilation.
type Controller struct {
	store  database.Store
	runner Runner
	log    slog.Logger
	clock  quartz.Clock

	jobMu   sync.Mutex
	lastJob LastJobInfo
}

// NewController constructs a Controller over store, using runner to
// fork/exec the compiler. clock defaults to the real clock when nil.
func NewController(store database.Store, runner Runner, log slog.Logger, clock quartz.Clock) *Controller {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Controller{store: store, runner: runner, log: log, clock: clock}
}

// CompileDevice runs the per-activity algorithm against every activity of
// every package, aggregating with boolean AND.
func (c *Controller) CompileDevice(ctx context.Context, params ControllerParams) bool {
	c.jobMu.Lock()
	c.lastJob.ActivitiesLastCompiled = 0
	c.jobMu.Unlock()

	packages, err := c.store.PackageSelectAll(ctx)
	if err != nil {
		c.log.Error(ctx, "compile device: list packages failed", slog.Error(err))
		return false
	}

	ok := true
	for _, pkg := range packages {
		if !c.compilePackage(ctx, pkg, params) {
			ok = false
		}
	}

	c.jobMu.Lock()
	c.lastJob.LastRunNs = c.clock.Now().UnixNano()
	c.jobMu.Unlock()

	return ok
}

// CompilePackage runs the per-activity algorithm against every activity of
// a named (name, version) pair; fails if the pair is not in the store.
func (c *Controller) CompilePackage(ctx context.Context, packageName string, version int64, params ControllerParams) bool {
	pkg, err := c.store.PackageSelectByNameAndVersion(ctx, packageName, version)
	if err != nil {
		c.log.Error(ctx, "compile package: package not found",
			slog.F("package_name", packageName), slog.F("version", version), slog.Error(err))
		return false
	}
	return c.compilePackage(ctx, pkg, params)
}

func (c *Controller) compilePackage(ctx context.Context, pkg database.Package, params ControllerParams) bool {
	activities, err := c.store.ActivitySelectByPackageID(ctx, pkg.ID)
	if err != nil {
		c.log.Error(ctx, "compile package: list activities failed", slog.F("package_id", pkg.ID), slog.Error(err))
		return false
	}

	ok := true
	for _, activity := range activities {
		if !c.compileActivity(ctx, pkg.ID, pkg.Name, activity.Name, pkg.Version, params) {
			ok = false
		}
	}
	return ok
}

// CompileActivity runs the per-activity algorithm against a single
// (package, activity, version) triple; fails if the package is not in the
// store, or the activity is not present under that package.
func (c *Controller) CompileActivity(ctx context.Context, packageName, activityName string, version int64, params ControllerParams) bool {
	pkg, err := c.store.PackageSelectByNameAndVersion(ctx, packageName, version)
	if err != nil {
		c.log.Error(ctx, "compile activity: package not found",
			slog.F("package_name", packageName), slog.F("version", version), slog.Error(err))
		return false
	}
	return c.compileActivity(ctx, pkg.ID, packageName, activityName, version, params)
}

func (c *Controller) compileActivity(ctx context.Context, packageID uuid.UUID, packageName, activityName string, version int64, params ControllerParams) bool {
	vcn := VersionedComponentName{PackageName: packageName, ActivityName: activityName, Version: version}
	outputFile := vcn.FilePath(params.baseDir)

	if !params.recompile {
		if _, err := os.Stat(outputFile); err == nil {
			c.log.Debug(ctx, "compiled trace exists on disk, skipping", slog.F("file_path", outputFile))
			return true
		}
	}

	activity, err := c.store.ActivitySelectByNameAndPackageID(ctx, activityName, packageID)
	if err != nil {
		c.log.Error(ctx, "compile activity: activity not found",
			slog.F("activity_name", activityName), slog.F("package_id", packageID), slog.Error(err))
		return false
	}

	histories, err := c.store.LaunchHistorySelectActivityHistoryForCompile(ctx, activity.ID)
	if err != nil {
		c.log.Error(ctx, "compile activity: history lookup failed", slog.F("activity_id", activity.ID), slog.Error(err))
		return false
	}

	inputs := c.gatherCompilationInputs(ctx, histories)
	if len(inputs) < params.minTraces {
		c.log.Debug(ctx, "insufficient evidence for compilation",
			slog.F("activity_name", activityName),
			slog.F("have", len(inputs)),
			slog.F("want", params.minTraces),
		)
		return false
	}

	c.jobMu.Lock()
	c.lastJob.ActivitiesLastCompiled++
	c.jobMu.Unlock()

	c.log.Debug(ctx, "attempting compilation",
		slog.F("package_name", packageName),
		slog.F("activity_name", activityName),
		slog.F("version", version),
		slog.F("file_path", outputFile),
		slog.F("trace_count", len(inputs)),
	)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		c.log.Error(ctx, "compile activity: mkdir failed", slog.F("file_path", outputFile), slog.Error(err))
		return false
	}

	argv := buildCompilerArgv(inputs, outputFile, params)
	if err := c.runner.Run(ctx, compilerBinaryPath, argv); err != nil {
		c.log.Error(ctx, "compiler child failed",
			slog.F("package_name", packageName), slog.F("activity_name", activityName), slog.Error(err))
		return false
	}

	if _, err := c.store.PrefetchFileInsert(ctx, activity.ID, outputFile); err != nil {
		c.log.Error(ctx, "compile activity: prefetch file insert failed",
			slog.F("activity_id", activity.ID), slog.F("file_path", outputFile), slog.Error(err))
		return false
	}
	return true
}

// gatherCompilationInputs resolves each history's raw trace, dropping
// histories with none, and computes the effective timestamp limit for the
// survivors.
func (c *Controller) gatherCompilationInputs(ctx context.Context, histories []database.LaunchHistory) []CompilationInput {
	inputs := make([]CompilationInput, 0, len(histories))
	for _, h := range histories {
		rawTrace, err := c.store.RawTraceSelectByHistoryID(ctx, h.ID)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				c.log.Error(ctx, "raw trace lookup failed", slog.F("history_id", h.ID), slog.Error(err))
			} else {
				c.log.Error(ctx, "no raw trace for history", slog.F("history_id", h.ID))
			}
			continue
		}

		limit := uint64(math.MaxUint64)
		switch {
		case h.ReportFullyDrawnNs.Valid:
			limit = uint64(h.ReportFullyDrawnNs.Int64)
		case h.TotalTimeNs.Valid:
			limit = uint64(h.TotalTimeNs.Int64)
		default:
			c.log.Error(ctx, "no timestamp for history, using max value", slog.F("history_id", h.ID))
		}

		inputs = append(inputs, CompilationInput{Filename: rawTrace.FilePath, TimestampLimitNs: limit})
	}
	return inputs
}

// buildCompilerArgv composes the compiler's argument vector deterministically:
// the N input paths, then N --timestamp_limit_ns flags in parallel order,
// then the optional/positional flags.
func buildCompilerArgv(inputs []CompilationInput, outputFile string, params ControllerParams) []string {
	argv := make([]string, 0, len(inputs)*3+6)
	for _, in := range inputs {
		argv = append(argv, in.Filename)
	}
	for _, in := range inputs {
		argv = append(argv, "--timestamp_limit_ns", strconv.FormatUint(in.TimestampLimitNs, 10))
	}
	if params.outputText {
		argv = append(argv, "--output-text")
	}
	argv = append(argv, "--output-proto", outputFile)
	if params.inodeTextcache != "" {
		argv = append(argv, "--inode-textcache", params.inodeTextcache)
	}
	if params.verbose {
		argv = append(argv, "--verbose")
	}
	return argv
}

// LastJobInfo returns a snapshot of the most recent device-wide pass.
func (c *Controller) LastJobInfo() LastJobInfo {
	c.jobMu.Lock()
	defer c.jobMu.Unlock()
	return c.lastJob
}
