// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration and runtime metrics for the reader link.
//
// Provides concurrent-safe state handling primitives including:
//   - Persistent device preferences with defaults and environment overrides
//   - Snapshot config reads, atomic updates and reload listeners
//   - Transfer and discovery counters
package control
