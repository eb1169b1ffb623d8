// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// DefaultReadLimit caps a single inbound frame.
const DefaultReadLimit = 16 << 20

// WebSocketDialer dials the backend over WebSocket. JSON frames travel as
// text messages and CBOR frames as binary messages.
type WebSocketDialer struct {
	Header     http.Header
	HTTPClient *http.Client
	ReadLimit  int64
}

// Dial implements Dialer. http and https URLs are mapped to ws and wss.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, wsURL(url), &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)
	return &wsConn{ws: ws}, nil
}

func wsURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return u
	}
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, frame []byte) error {
	typ := websocket.MessageText
	if len(frame) > 0 && frame[0] != '{' {
		typ = websocket.MessageBinary
	}
	return c.ws.Write(ctx, typ, frame)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "client closing")
}
