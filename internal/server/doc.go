// Package server implements the RoomChat connection hub: WebSocket
// clients, the hub that registers them and fans out broadcasts, the router
// that turns inbound envelopes into store operations and replies, and the
// HTTP wiring around them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, message routing, and HTTP handlers.
package server
