// Package storage persists reminder records and the global time-ordered due
// index behind a small Store interface with memory, file, and sqlite drivers.
package storage
