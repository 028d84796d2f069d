package maintenance

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cdr.dev/slog"

	"github.com/iorap/iorap-core/database"
)

const minTracesForDumpHeuristic = defaultMinTraces

// Dump renders a human-readable report of the last background job and
// every package/activity's compile status, addressed to w. It try-locks
// the job-info mutex and annotates the report rather than blocking the
// caller if that fails.
func (c *Controller) Dump(ctx context.Context, w io.Writer) {
	locked := c.jobMu.TryLock()
	info := c.lastJob
	if locked {
		c.jobMu.Unlock()
	}

	fmt.Fprintln(w, "Background job:")
	if !locked {
		fmt.Fprintln(w, "  (possible deadlock)")
	}
	if info.LastRunNs != 0 {
		fmt.Fprintf(w, "  Last run at: %s\n", time.Unix(0, info.LastRunNs).Format(time.ANSIC))
	} else {
		fmt.Fprintln(w, "  Last run at: (None)")
	}
	fmt.Fprintf(w, "  Activities last compiled: %d\n", info.ActivitiesLastCompiled)
	fmt.Fprintln(w)

	c.dumpAllPackages(ctx, w)
}

func (c *Controller) dumpAllPackages(ctx context.Context, w io.Writer) {
	fmt.Fprintln(w, "Package history in database:")

	packages, err := c.store.PackageSelectAll(ctx)
	if err != nil {
		c.log.Error(ctx, "dump: list packages failed", slog.Error(err))
		return
	}
	for _, pkg := range packages {
		c.dumpPackage(ctx, w, pkg)
	}
	fmt.Fprintln(w)
}

func (c *Controller) dumpPackage(ctx context.Context, w io.Writer, pkg database.Package) {
	activities, err := c.store.ActivitySelectByPackageID(ctx, pkg.ID)
	if err != nil {
		c.log.Error(ctx, "dump: list activities failed", slog.F("package_id", pkg.ID), slog.Error(err))
		return
	}
	for _, activity := range activities {
		c.dumpPackageActivity(ctx, w, pkg, activity)
	}
}

func (c *Controller) dumpPackageActivity(ctx context.Context, w io.Writer, pkg database.Package, activity database.Activity) {
	fmt.Fprintf(w, "  %s/%s@%d\n", pkg.Name, activity.Name, pkg.Version)

	prefetchFile, prefetchErr := c.store.PrefetchFileSelectByVersionedComponentName(ctx, pkg.Name, activity.Name, pkg.Version)

	histories, err := c.store.LaunchHistorySelectActivityHistoryForCompile(ctx, activity.ID)
	if err != nil {
		c.log.Error(ctx, "dump: history lookup failed", slog.F("activity_id", activity.ID), slog.Error(err))
		return
	}
	inputs := c.gatherCompilationInputs(ctx, histories)

	if prefetchErr == nil {
		c.dumpCompiledStatus(w, prefetchFile)
	} else if len(inputs) >= minTracesForDumpHeuristic {
		fmt.Fprintf(w, "    Compiled Status: Raw traces pending compilation (%d)\n", len(inputs))
	} else {
		fmt.Fprintf(w, "    Compiled Status: Need %d more traces for compilation\n", minTracesForDumpHeuristic-len(inputs))
	}

	fmt.Fprintln(w, "    Raw traces:")
	fmt.Fprintf(w, "      Trace count: %d\n", len(inputs))
	for _, in := range inputs {
		fmt.Fprintf(w, "      %s\n", in.Filename)
	}
}

func (c *Controller) dumpCompiledStatus(w io.Writer, prefetchFile database.PrefetchFile) {
	info, statErr := os.Stat(prefetchFile.FilePath)
	if statErr == nil {
		fmt.Fprintln(w, "    Compiled Status: Usable compiled trace")
		fmt.Fprintf(w, "      Bytes to be prefetched: %d\n", info.Size())
	} else {
		fmt.Fprintln(w, "    Compiled Status: Prefetch file deleted from disk.")
		fmt.Fprintln(w, "      Bytes to be prefetched: (bad file path)")
	}
	fmt.Fprintf(w, "      Time compiled: %s\n", prefetchFile.CreatedAt.Format(time.ANSIC))
	fmt.Fprintf(w, "      %s\n", prefetchFile.FilePath)
}
