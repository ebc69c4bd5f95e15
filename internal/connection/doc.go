// Package connection implements the chat Connection Manager.
//
// The Connection Manager:
//   - Owns at most one live WebSocket transport per credential
//   - Fetches the history snapshot once per Start and merges it with the live stream
//   - Queues outbound messages until the transport is open, then drains them in order
//   - Reconnects with exponential backoff, except after an authentication rejection
//   - Notifies observers of state changes and new messages
package connection
