// Package watcher provides filesystem event watching used for the
// single-instance lock file and module discovery directories.
//
// Watches are placed on directories, so a file registration keeps working
// when the file is created, removed or replaced. Events are debounced per
// registration and delivery is best effort: callers should treat an event as
// a hint to re-read state rather than rely on exact ordering.
package watcher
