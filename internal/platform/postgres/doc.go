// Package postgres provides PostgreSQL implementations of the store
// interfaces defined in the task and store packages. The SQL is kept
// engine-portable (no server-side clock, no engine-specific time types) so
// the same statements run against an in-memory SQLite database in tests.
package postgres
