// Package strap defines the shared types of the straplink accessory protocol
// engine: result codes, service/attribute identifiers, request kinds, and the
// events delivered to the consumer task.
package strap

// The engine speaks a half-duplex, byte-streamed wire protocol to a wrist
// accessory. Exactly one frame is in flight system-wide; further requests
// queue per-attribute until the connection monitor drains them.
//
// Producer: accessory firmware
// Consumer: the application task using Host
