// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gavel-foundation/gavel/lib/codec"
)

// writeDeadline bounds a single WebSocket write. A client that cannot
// accept a frame within this window is treated as a failed write,
// which marks its session stale; catch-up happens through the
// reconciler on reconnect, not by blocking the fan-out path.
const writeDeadline = 10 * time.Second

// Compile-time interface check.
var _ Transport = (*WebSocket)(nil)

// WebSocket adapts a gorilla websocket connection to the Transport
// interface. Frames travel as CBOR binary messages.
//
// Send and Close may be called from any goroutine. Receive must be
// called from a single reader goroutine, per the underlying
// connection's contract.
type WebSocket struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewWebSocket wraps an established websocket connection. The caller
// keeps responsibility for running a read loop via Receive.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Send encodes the frame as CBOR and writes it as one binary message.
func (w *WebSocket) Send(frame Frame) error {
	data, err := codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("transport: encoding frame: %w", err)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("transport: setting write deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

// Receive blocks until the next client frame arrives. Returns an error
// when the connection closes or the peer sends something that is not a
// CBOR binary frame.
func (w *WebSocket) Receive() (Frame, error) {
	messageType, data, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("transport: websocket read: %w", err)
	}
	if messageType != websocket.BinaryMessage {
		return Frame{}, fmt.Errorf("transport: unexpected websocket message type %d", messageType)
	}
	var frame Frame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("transport: decoding frame: %w", err)
	}
	return frame, nil
}

// Close sends a close message on a best-effort basis, then closes the
// underlying connection. Safe to call more than once; gorilla's Close
// tolerates repeats.
func (w *WebSocket) Close() error {
	w.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	w.writeMu.Unlock()
	return w.conn.Close()
}
