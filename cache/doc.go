// Package cache provides auth.LocalCache implementations: an in-process map,
// a SQLite key/value table and Redis.
package cache
