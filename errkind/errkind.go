// Package errkind defines the sentinel error values used to classify
// failures across the pipeline, so that callers can tell a fatal
// condition from one that should be logged and absorbed.
package errkind

import "errors"

// Fatal conditions. Any stage that returns one of these aborts the
// whole run; the caller is expected to delete whatever partial output
// file it produced and rerun the stage.
var (
	ErrConfigMissing    = errors.New("config file not found")
	ErrConfigInvalid    = errors.New("config file is invalid")
	ErrPathMissing      = errors.New("required path does not exist")
	ErrPathNotDirectory = errors.New("required path is not a directory")
	ErrShardCorrupt     = errors.New("bucket shard file is corrupt")
	ErrIOWrite          = errors.New("write to output file failed")
	ErrReverseNotBuilt  = errors.New("reverse adjacency was never built")
)

// Non-fatal conditions. These are counted and logged by the caller; a
// single bad row never aborts a run.
var (
	ErrRecordParse = errors.New("could not parse record")
	ErrWrongFamily = errors.New("address family does not match configuration")
)

// Recoverable conditions. Logged as a warning, then the caller proceeds
// as if the underlying state were absent.
var (
	ErrCheckpointCorrupt = errors.New("checkpoint file is corrupt")
)
