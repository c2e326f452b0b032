// Package counter provides io.Reader and io.Writer wrappers that keep a
// running byte count, used to drive progress reporting.
package counter

// CountCallback is called with the new total every time bytes go through.
type CountCallback func(count int64)
