// Package model defines the chat message types shared by the history client,
// the connection manager and the transcript archive.
//
// Conventions:
//   - Wire field names follow the chat service: username, message, timestamp
//   - Timestamps are time.Time; inbound values may be RFC 3339 strings or Unix milliseconds
//   - A message without a usable timestamp is stamped once, when it is received
package model
