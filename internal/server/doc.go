// Package server exposes the runtime's HTTP surface: session and
// autonomous-mode CRUD plus the multiplexed WebSocket event stream. Built on
// chi.
package server
