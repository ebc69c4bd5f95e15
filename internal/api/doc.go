// Package api provides the REST client for the chat service.
//
// Endpoints:
//   - GET <base>/messages: ordered chat history, bearer-authenticated
//
// The live stream is handled by package connection.
package api
