// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package protocol defines the versioned event envelope exchanged with the
// agent backend and the codec that moves it on and off the wire.
//
// Every frame is an Event carrying a schema version, a unique event id, an
// optional session id and a typed Payload. Payload is a closed union: the
// known payload structs in this package plus Unknown, which preserves event
// types introduced by newer backends without interpreting them.
//
// Frames are JSON by default. When both peers advertise CapabilityCBOR at
// handshake, post-handshake frames switch to CBOR with core deterministic
// encoding. Handshake frames are always JSON.
package protocol
