// Package errors provides the classified error primitives used across rtdbuild.
//
// A ClassifiedError carries a category, a severity, a retry strategy and a
// context map. The HTTP and CLI adapters turn those into status codes, JSON
// payloads and process exit codes.
//
//	err := errors.ImportError("failed to clone repository").
//		WithCause(cause).
//		WithContext("repo_url", repoURL).
//		WithContext("exit_code", 128).
//		Build()
package errors
