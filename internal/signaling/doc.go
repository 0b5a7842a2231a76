// Package signaling is the console's connection to the teleoperation relay.
//
// A Channel joins one room over socket.io, decodes the relay's call events
// into typed values, and emits the console's replies. It never reconnects: a
// disconnected Channel is discarded and a new one dialed.
package signaling
