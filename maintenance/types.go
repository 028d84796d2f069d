package maintenance

import (
	"path/filepath"
	"strconv"
)

const compilerBinaryPath = "/system/bin/iorap.cmd.compiler"

// VersionedComponentName addresses a prefetch artifact on disk. Two
// invocations with the same triple must produce the same path.
type VersionedComponentName struct {
	PackageName  string
	ActivityName string
	Version      int64
}

// FilePath derives the on-disk location of the compiled prefetch file for
// this triple. It is a pure function: the same triple always yields the
// same path, at both insert and lookup call sites.
func (v VersionedComponentName) FilePath(baseDir string) string {
	name := v.ActivityName + "@" + strconv.FormatInt(v.Version, 10) + ".compiled_trace.pb"
	return filepath.Join(baseDir, v.PackageName, name)
}

// CompilationInput is one input trace handed to the compiler: its file
// path and the timestamp beyond which the trace is no longer relevant.
type CompilationInput struct {
	Filename         string
	TimestampLimitNs uint64
}

// LastJobInfo is the process-wide (per-Controller) record of the most
// recent device-wide compile pass, read by Dump.
type LastJobInfo struct {
	LastRunNs              int64
	ActivitiesLastCompiled int
}
