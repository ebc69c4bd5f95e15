// Package archive keeps an optional local transcript of the chat in PostgreSQL.
//
// The Writer observes the Connection Manager and inserts every message it
// sees in batches. Inserts are append-only: a message already archived
// (same server id, client id, author and sent time) is skipped.
package archive
