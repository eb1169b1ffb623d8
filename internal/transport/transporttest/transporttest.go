// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transporttest provides an in-memory backend for exercising
// transport.Connection and everything layered on top of it.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/ztc/internal/protocol"
	"github.com/ManuGH/ztc/internal/transport"
)

// ErrLinkClosed is returned by reads and writes on a dropped link.
var ErrLinkClosed = errors.New("transporttest: link closed")

// ErrDialRefused is returned for dials failed via FailDials.
var ErrDialRefused = errors.New("transporttest: dial refused")

type link struct {
	c2s    chan []byte
	s2c    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newLink() *link {
	return &link{
		c2s:    make(chan []byte, 4096),
		s2c:    make(chan []byte, 4096),
		closed: make(chan struct{}),
	}
}

func (l *link) close() {
	l.once.Do(func() { close(l.closed) })
}

func read(ctx context.Context, l *link, ch chan []byte) ([]byte, error) {
	select {
	case b := <-ch:
		return b, nil
	default:
	}
	select {
	case b := <-ch:
		return b, nil
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func write(ctx context.Context, l *link, ch chan []byte, frame []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	default:
	}
	buf := append([]byte(nil), frame...)
	select {
	case ch <- buf:
		return nil
	case <-l.closed:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

type clientConn struct{ l *link }

func (c *clientConn) Read(ctx context.Context) ([]byte, error) { return read(ctx, c.l, c.l.s2c) }

func (c *clientConn) Write(ctx context.Context, frame []byte) error {
	return write(ctx, c.l, c.l.c2s, frame)
}

func (c *clientConn) Close() error {
	c.l.close()
	return nil
}

// Server is an in-memory backend that answers handshakes.
type Server struct {
	mu           sync.Mutex
	versions     []string
	capabilities []string
	reject       string
	silent       bool
	ackFrame     []byte
	failDials    int
	dials        int
	accepted     chan *ServerConn
	links        []*link
}

// Option configures a Server.
type Option func(*Server)

// WithVersions sets the schema versions the server supports.
func WithVersions(v ...string) Option {
	return func(s *Server) { s.versions = v }
}

// WithCapabilities sets the capabilities returned in handshake_ack.
func WithCapabilities(c ...string) Option {
	return func(s *Server) { s.capabilities = c }
}

// NewServer returns a server speaking every version the client supports.
func NewServer(opts ...Option) *Server {
	s := &Server{
		versions: append([]string(nil), protocol.SupportedVersions...),
		accepted: make(chan *ServerConn, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetVersions changes the versions offered to later handshakes.
func (s *Server) SetVersions(v ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = v
}

// Reject makes later handshakes fail with reason. Empty accepts again.
func (s *Server) Reject(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reason
}

// Silent makes later handshakes go unanswered.
func (s *Server) Silent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = v
}

// AckWith answers later handshakes with frame verbatim. The server then
// speaks the version the frame names, or the highest common one.
func (s *Server) AckWith(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackFrame = frame
}

// FailDials refuses the next n dials.
func (s *Server) FailDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDials = n
}

// Dials returns the number of dial attempts seen.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Dialer returns a transport.Dialer connected to this server.
func (s *Server) Dialer() transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, _ string) (transport.Conn, error) {
		s.mu.Lock()
		s.dials++
		if s.failDials > 0 {
			s.failDials--
			s.mu.Unlock()
			return nil, ErrDialRefused
		}
		l := newLink()
		s.links = append(s.links, l)
		s.mu.Unlock()

		go s.serveHandshake(l)
		return &clientConn{l: l}, nil
	})
}

// Close drops every link.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		l.close()
	}
}

func highest(versions []string) string {
	best := ""
	var bestV protocol.Version
	for _, s := range versions {
		v, err := protocol.ParseVersion(s)
		if err != nil {
			continue
		}
		if best == "" || v.Compare(bestV) > 0 {
			best, bestV = s, v
		}
	}
	return best
}

func (s *Server) serveHandshake(l *link) {
	s.mu.Lock()
	versions := append([]string(nil), s.versions...)
	caps := append([]string(nil), s.capabilities...)
	reject, silent, ackFrame := s.reject, s.silent, s.ackFrame
	s.mu.Unlock()

	server := highest(versions)
	codec := protocol.NewCodec(protocol.WithSupportedVersions(versions...), protocol.WithClientVersion(server))

	raw, err := read(context.Background(), l, l.c2s)
	if err != nil {
		return
	}
	ev, err := codec.Decode(raw)
	if err != nil {
		l.close()
		return
	}
	hello, ok := ev.Payload.(protocol.Handshake)
	if !ok {
		l.close()
		return
	}
	if silent {
		return
	}
	if ackFrame != nil {
		s.serveRawAck(l, codec, hello, versions, ackFrame)
		return
	}

	ack := protocol.HandshakeAck{
		ServerVersion:     server,
		SupportedVersions: versions,
		Capabilities:      caps,
		Accepted:          protocol.Flag(reject == ""),
		Reason:            reject,
	}
	negotiated, err := protocol.Negotiate(hello.SupportedVersions, versions)
	if err != nil {
		ack.Accepted = protocol.Flag(false)
		ack.Reason = err.Error()
	}
	ack.NegotiatedVersion = negotiated

	out, err := codec.Encode(protocol.Global(ack))
	if err != nil {
		l.close()
		return
	}
	if err := write(context.Background(), l, l.s2c, out); err != nil {
		return
	}
	if ack.Rejected() {
		return
	}
	if err := codec.Negotiate(negotiated, protocol.SelectEncoding(hello.Capabilities, caps)); err != nil {
		l.close()
		return
	}
	s.accepted <- &ServerConn{l: l, codec: codec, hello: hello, version: negotiated}
}

func (s *Server) serveRawAck(l *link, codec *protocol.Codec, hello protocol.Handshake, versions []string, frame []byte) {
	if err := write(context.Background(), l, l.s2c, frame); err != nil {
		return
	}
	ev, err := codec.Decode(frame)
	if err != nil {
		return
	}
	ack, ok := ev.Payload.(protocol.HandshakeAck)
	if !ok || ack.Rejected() {
		return
	}
	negotiated := ack.NegotiatedVersion
	if negotiated == "" {
		if negotiated, err = protocol.Negotiate(hello.SupportedVersions, versions); err != nil {
			return
		}
	}
	if err := codec.Negotiate(negotiated, protocol.SelectEncoding(hello.Capabilities, ack.Capabilities)); err != nil {
		l.close()
		return
	}
	s.accepted <- &ServerConn{l: l, codec: codec, hello: hello, version: negotiated}
}

// Accept returns the next link whose handshake was accepted.
func (s *Server) Accept(ctx context.Context) (*ServerConn, error) {
	select {
	case sc := <-s.accepted:
		return sc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServerConn is the backend end of one accepted link.
type ServerConn struct {
	l       *link
	codec   *protocol.Codec
	hello   protocol.Handshake
	version string
}

// Hello returns the client's handshake.
func (c *ServerConn) Hello() protocol.Handshake { return c.hello }

// Version returns the negotiated schema version.
func (c *ServerConn) Version() string { return c.version }

// Encoding returns the negotiated frame encoding.
func (c *ServerConn) Encoding() protocol.Encoding { return c.codec.Encoding() }

// Recv decodes the next frame written by the client.
func (c *ServerConn) Recv(ctx context.Context) (protocol.Event, error) {
	raw, err := read(ctx, c.l, c.l.c2s)
	if err != nil {
		return protocol.Event{}, err
	}
	return c.codec.Decode(raw)
}

// RecvRaw returns the next raw frame written by the client.
func (c *ServerConn) RecvRaw(ctx context.Context) ([]byte, error) {
	return read(ctx, c.l, c.l.c2s)
}

// Send encodes ev and delivers it to the client.
func (c *ServerConn) Send(ev protocol.Event) error {
	data, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw delivers a raw frame to the client.
func (c *ServerConn) SendRaw(frame []byte) error {
	return write(context.Background(), c.l, c.l.s2c, frame)
}

// Drop simulates an unexpected link loss.
func (c *ServerConn) Drop() {
	c.l.close()
}
