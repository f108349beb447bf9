// Package fserrors defines the error taxonomy shared by the watch, load,
// and index packages. Only ConfigError is ever returned to a caller; the
// rest are logged at the point they occur and the triggering event is
// dropped (see SPEC_FULL.md §7).
package fserrors

import "fmt"

// ConfigError reports a problem with construction-time configuration,
// such as a watch root that does not exist or is not a directory. It is
// the sole fatal error in the system.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for %q: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransientFsError covers a file vanishing between notification and
// read, permission failures, and other I/O errors mid-read. Logged and
// dropped; the owning component continues.
type TransientFsError struct {
	Path string
	Err  error
}

func (e *TransientFsError) Error() string {
	return fmt.Sprintf("transient filesystem error for %q: %v", e.Path, e.Err)
}

func (e *TransientFsError) Unwrap() error { return e.Err }

// EncodingError reports a file whose contents are not valid UTF-8.
type EncodingError struct {
	Path string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%q is not valid UTF-8", e.Path)
}

// WatchServiceFailure reports an error delivered by the underlying OS
// watch service. The Watcher logs it and keeps running; it closes its
// output channel, propagating end-of-stream downstream, only when the
// watch service itself terminates.
type WatchServiceFailure struct {
	Path string
	Err  error
}

func (e *WatchServiceFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("watch service failure: %v", e.Err)
	}
	return fmt.Sprintf("watch service failure for %q: %v", e.Path, e.Err)
}

func (e *WatchServiceFailure) Unwrap() error { return e.Err }

// InvariantViolation reports a condition the design asserts cannot
// happen, such as a re-stat mtime older than the mtime observed before
// the read began. Asserted (panics) only when Debug is true; otherwise
// logged and the triggering event is dropped.
type InvariantViolation struct {
	Path    string
	Message string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated for %q: %s", e.Path, e.Message)
}

// Debug gates whether InvariantViolation conditions panic (debug
// builds) or are merely logged and dropped (release). Tests may flip
// this to exercise the assertion path.
var Debug = false
