// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the wire shape shared by both encodings. fxamacker/cbor falls
// back to json tags, so one definition serves JSON and CBOR.
type envelope[R any] struct {
	SchemaVersion string    `json:"schema_version"`
	EventID       string    `json:"event_id"`
	SessionID     *string   `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          Type      `json:"type"`
	Payload       R         `json:"payload,omitempty"`
}

type unmarshalFunc func([]byte, any) error

type payloadDecoder func(unmarshal unmarshalFunc, raw []byte) (Payload, error)

func decodeAs[T Payload](unmarshal unmarshalFunc, raw []byte) (Payload, error) {
	var p T
	if err := unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var decoders = map[Type]payloadDecoder{
	TypeHandshake:           decodeAs[Handshake],
	TypeHandshakeAck:        decodeAs[HandshakeAck],
	TypeTextChunk:           decodeAs[TextChunk],
	TypeShowDiff:            decodeAs[ShowDiff],
	TypeRequestApproval:     decodeAs[RequestApproval],
	TypeApprovalResponse:    decodeAs[ApprovalResponse],
	TypeDisplayLogs:         decodeAs[DisplayLogs],
	TypeUserMessage:         decodeAs[UserMessage],
	TypeInterrupt:           decodeAs[Interrupt],
	TypeSessionCreate:       decodeAs[SessionCreate],
	TypeSessionCreated:      decodeAs[SessionCreated],
	TypeSessionClose:        decodeAs[SessionClose],
	TypeSessionClosed:       decodeAs[SessionClosed],
	TypeSessionResume:       decodeAs[SessionResume],
	TypeUploadFile:          decodeAs[UploadFile],
	TypeRequestFileDownload: decodeAs[RequestFileDownload],
	TypeFileDownload:        decodeAs[FileDownload],
}

// Option configures a Codec.
type Option func(*Codec)

// WithSupportedVersions overrides the versions the codec accepts.
func WithSupportedVersions(versions ...string) Option {
	return func(c *Codec) {
		c.supported = c.supported[:0]
		for _, s := range versions {
			if v, err := ParseVersion(s); err == nil {
				c.supported = append(c.supported, v)
			}
		}
	}
}

// WithClientVersion overrides the version stamped on handshake frames.
func WithClientVersion(version string) Option {
	return func(c *Codec) {
		if v, err := ParseVersion(version); err == nil {
			c.client = v
		}
	}
}

// Codec encodes and decodes Events. It is safe for concurrent use.
type Codec struct {
	mu         sync.RWMutex
	client     Version
	supported  []Version
	negotiated *Version
	accepted   map[Version]struct{}
	encoding   Encoding
}

// NewCodec returns a codec that has not negotiated a version yet. Until
// Negotiate is called only handshake frames are accepted.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		client:   MustParseVersion(ClientVersion),
		encoding: EncodingJSON,
	}
	for _, s := range SupportedVersions {
		c.supported = append(c.supported, MustParseVersion(s))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supported returns the versions advertised at handshake.
func (c *Codec) Supported() []string {
	out := make([]string, 0, len(c.supported))
	for _, v := range c.supported {
		out = append(out, v.String())
	}
	return out
}

// ClientVersion returns the version stamped on handshake frames.
func (c *Codec) ClientVersion() string {
	return c.client.String()
}

// Negotiate fixes the schema version and frame encoding. The version can be
// set once; repeating the same version only updates the encoding.
func (c *Codec) Negotiate(version string, enc Encoding) error {
	v, err := ParseVersion(version)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.negotiated != nil {
		if *c.negotiated != v {
			return fmt.Errorf("%w: have %s, got %s", ErrVersionImmutable, c.negotiated, v)
		}
		c.encoding = enc
		return nil
	}
	if !c.supports(v) {
		return fmt.Errorf("%w: %s not in %v", ErrIncompatibleVersion, v, c.supported)
	}

	accepted := map[Version]struct{}{v: {}}
	for _, s := range c.supported {
		if s.Major == v.Major && s.Minor <= v.Minor {
			accepted[s] = struct{}{}
		}
	}
	c.negotiated = &v
	c.accepted = accepted
	c.encoding = enc
	return nil
}

// Negotiated returns the negotiated version.
func (c *Codec) Negotiated() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.negotiated == nil {
		return "", false
	}
	return c.negotiated.String(), true
}

// Encoding returns the frame encoding used for non-handshake events.
func (c *Codec) Encoding() Encoding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoding
}

func (c *Codec) supports(v Version) bool {
	for _, s := range c.supported {
		if s == v {
			return true
		}
	}
	return false
}

// Encode serializes ev. Handshake frames are always JSON and carry the
// client version unless ev.SchemaVersion is set; every other frame is stamped
// with the negotiated version.
func (c *Codec) Encode(ev Event) ([]byte, error) {
	if ev.Payload == nil {
		return nil, malformed(ev.Type, "payload is required")
	}
	if ev.Type == "" {
		ev.Type = ev.Payload.Type()
	}
	if ev.Type != ev.Payload.Type() {
		return nil, malformed(ev.Type, "payload type %s does not match envelope", ev.Payload.Type())
	}
	if ev.EventID == uuid.Nil {
		return nil, malformed(ev.Type, "event_id is required")
	}
	if err := ev.Payload.validate(); err != nil {
		return nil, malformed(ev.Type, "%v", err)
	}

	c.mu.RLock()
	negotiated, enc := c.negotiated, c.encoding
	c.mu.RUnlock()

	version := ev.SchemaVersion
	if ev.Type.IsHandshake() {
		enc = EncodingJSON
		if version == "" {
			version = c.client.String()
		}
	} else {
		if negotiated == nil {
			return nil, &CodecError{Kind: KindBeforeHandshake, Type: ev.Type}
		}
		if !ev.Type.AvailableIn(*negotiated) {
			return nil, &CodecError{Kind: KindUnavailable, Type: ev.Type, Version: negotiated.String()}
		}
		version = negotiated.String()
	}

	var sid *string
	if ev.SessionID != nil {
		s := ev.SessionID.String()
		sid = &s
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingCBOR:
		var body any = ev.Payload
		if u, ok := ev.Payload.(Unknown); ok {
			body, err = unknownToAny(u.Raw)
			if err != nil {
				return nil, malformed(ev.Type, "unknown payload: %v", err)
			}
		}
		data, err = cborEnc.Marshal(envelope[any]{
			SchemaVersion: version,
			EventID:       ev.EventID.String(),
			SessionID:     sid,
			Timestamp:     ts,
			Type:          ev.Type,
			Payload:       body,
		})
	default:
		var raw json.RawMessage
		if u, ok := ev.Payload.(Unknown); ok {
			raw = u.Raw
		} else {
			raw, err = json.Marshal(ev.Payload)
			if err != nil {
				return nil, malformed(ev.Type, "%v", err)
			}
		}
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		data, err = json.Marshal(envelope[json.RawMessage]{
			SchemaVersion: version,
			EventID:       ev.EventID.String(),
			SessionID:     sid,
			Timestamp:     ts,
			Type:          ev.Type,
			Payload:       raw,
		})
	}
	if err != nil {
		return nil, malformed(ev.Type, "%v", err)
	}
	return data, nil
}

func unknownToAny(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode parses one frame. The encoding is detected from the first byte, so
// a peer may keep sending JSON after CBOR was negotiated.
func (c *Codec) Decode(data []byte) (Event, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return Event{}, malformed("", "empty frame")
	}

	var (
		hdr       envelope[[]byte]
		unmarshal unmarshalFunc
	)
	switch {
	case trimmed[0] == '{':
		var env envelope[json.RawMessage]
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Event{}, malformed("", "json: %v", err)
		}
		hdr = envelope[[]byte]{env.SchemaVersion, env.EventID, env.SessionID, env.Timestamp, env.Type, env.Payload}
		unmarshal = json.Unmarshal
	case trimmed[0]>>5 == 5: // CBOR major type 5: map
		var env envelope[cbor.RawMessage]
		if err := cborDec.Unmarshal(trimmed, &env); err != nil {
			return Event{}, malformed("", "cbor: %v", err)
		}
		hdr = envelope[[]byte]{env.SchemaVersion, env.EventID, env.SessionID, env.Timestamp, env.Type, env.Payload}
		unmarshal = cborDec.Unmarshal
	default:
		return Event{}, malformed("", "unrecognised frame encoding")
	}

	if hdr.Type == "" {
		return Event{}, malformed("", "type is required")
	}
	if hdr.SchemaVersion == "" {
		return Event{}, malformed(hdr.Type, "schema_version is required")
	}
	eventID, err := uuid.Parse(hdr.EventID)
	if err != nil {
		return Event{}, malformed(hdr.Type, "event_id: %v", err)
	}
	var sessionID *uuid.UUID
	if hdr.SessionID != nil && *hdr.SessionID != "" {
		sid, err := uuid.Parse(*hdr.SessionID)
		if err != nil {
			return Event{}, malformed(hdr.Type, "session_id: %v", err)
		}
		sessionID = &sid
	}
	version, err := ParseVersion(hdr.SchemaVersion)
	if err != nil {
		return Event{}, malformed(hdr.Type, "%v", err)
	}

	c.mu.RLock()
	negotiated, accepted := c.negotiated, c.accepted
	c.mu.RUnlock()

	if negotiated == nil {
		if !hdr.Type.IsHandshake() {
			return Event{}, &CodecError{Kind: KindBeforeHandshake, Type: hdr.Type, Version: hdr.SchemaVersion}
		}
		if !c.supports(version) && version.Major != c.client.Major {
			return Event{}, &CodecError{Kind: KindUnsupportedVersion, Type: hdr.Type, Version: hdr.SchemaVersion}
		}
	} else if _, ok := accepted[version]; !ok {
		return Event{}, &CodecError{Kind: KindUnsupportedVersion, Type: hdr.Type, Version: hdr.SchemaVersion}
	}

	raw := hdr.Payload
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || (len(raw) == 1 && raw[0] == 0xf6) {
		if trimmed[0] == '{' {
			raw = []byte("{}")
		} else {
			raw = []byte{0xa0}
		}
	}

	var payload Payload
	if dec, ok := decoders[hdr.Type]; ok {
		payload, err = dec(unmarshal, raw)
		if err != nil {
			return Event{}, malformed(hdr.Type, "payload: %v", err)
		}
		if err := payload.validate(); err != nil {
			return Event{}, malformed(hdr.Type, "%v", err)
		}
	} else {
		js, err := rawToJSON(trimmed[0] == '{', raw)
		if err != nil {
			return Event{}, malformed(hdr.Type, "payload: %v", err)
		}
		payload = Unknown{Name: string(hdr.Type), Raw: js}
	}

	return Event{
		SchemaVersion: version.String(),
		EventID:       eventID,
		SessionID:     sessionID,
		Timestamp:     hdr.Timestamp,
		Type:          hdr.Type,
		Payload:       payload,
	}, nil
}

func rawToJSON(isJSON bool, raw []byte) (json.RawMessage, error) {
	if isJSON {
		out := make(json.RawMessage, len(raw))
		copy(out, raw)
		return out, nil
	}
	var v any
	if err := cborDec.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
