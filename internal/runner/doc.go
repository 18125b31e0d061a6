// Package runner executes VCS and documentation-tool subprocesses.
//
// A Runner never returns an error for a failing subprocess. The outcome is a
// Result carrying the exit code and captured output; failures to start the
// process at all are reported as exit code -1 with the formatted OS error in
// Stderr. Callers decide what a nonzero code means.
package runner
