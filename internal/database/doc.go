// Package database provides the PostgreSQL connection pool used by the
// transcript archive.
package database
