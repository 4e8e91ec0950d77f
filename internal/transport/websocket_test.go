// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/guildsync/internal/protocol"
)

// setupWebSocketServer creates a test WebSocket server with a custom handler
func setupWebSocketServer(t *testing.T, handler func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		handler(t, conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{"https to wss", "https://app.example.com/api/v1", "documents/doc-42/collaborate", "wss://app.example.com/api/v1/documents/doc-42/collaborate", false},
		{"http to ws", "http://localhost:8080/api/v1/", "/events/updates", "ws://localhost:8080/api/v1/events/updates", false},
		{"strips query", "https://app.example.com/api?token=leak", "events/updates", "wss://app.example.com/api/events/updates", false},
		{"strips userinfo", "https://user:pw@app.example.com", "events/updates", "wss://app.example.com/events/updates", false},
		{"bad scheme", "ftp://example.com", "x", "", true},
		{"no host", "https://", "x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SocketURL(tt.base, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SocketURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("SocketURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloseCode(t *testing.T) {
	if got := CloseCode(nil); got != protocol.CloseNormal {
		t.Errorf("CloseCode(nil) = %d", got)
	}
	if got := CloseCode(&CloseError{Code: 1008}); got != 1008 {
		t.Errorf("CloseCode(1008) = %d", got)
	}
	wrapped := errors.Join(errors.New("read"), &CloseError{Code: 4001})
	if got := CloseCode(wrapped); got != 4001 {
		t.Errorf("CloseCode(wrapped) = %d", got)
	}
	if got := CloseCode(errors.New("reset")); got != protocol.CloseAbnormal {
		t.Errorf("CloseCode(reset) = %d", got)
	}
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	server := setupWebSocketServer(t, func(t *testing.T, conn *websocket.Conn) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("expected binary frame, got %d", msgType)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			t.Errorf("server write: %v", err)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(protocol.CloseAuthRejected, "bad token"))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewWebSocketDialer().Dial(ctx, wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(protocol.CloseNormal, "")

	frame := protocol.Encode(protocol.KindSync, []byte{1, 2, 3})
	if err := conn.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	echo, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(echo) != string(frame) {
		t.Errorf("echo = %v, want %v", echo, frame)
	}

	_, err = conn.ReadFrame()
	if got := CloseCode(err); got != protocol.CloseAuthRejected {
		t.Errorf("expected close code 1008, got %d (%v)", got, err)
	}
}

func TestWebSocketConn_WriteAfterClose(t *testing.T) {
	server := setupWebSocketServer(t, func(t *testing.T, conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	defer server.Close()

	conn, err := NewWebSocketDialer().Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.Close(protocol.CloseNormal, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.WriteFrame([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame after close = %v, want ErrClosed", err)
	}
	// Closing twice is harmless.
	_ = conn.Close(protocol.CloseNormal, "")
}

func TestWebSocketConn_CloseDoesNotWaitOnBlockedWrite(t *testing.T) {
	release := make(chan struct{})
	server := setupWebSocketServer(t, func(t *testing.T, conn *websocket.Conn) {
		// Never read, so the client's socket buffers fill up.
		<-release
	})
	defer server.Close()
	defer close(release)

	conn, err := NewWebSocketDialer().Dial(context.Background(), wsURL(server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	frame := make([]byte, 4<<20)
	writerDone := make(chan error, 1)
	go func() {
		for {
			if err := conn.WriteFrame(frame); err != nil {
				writerDone <- err
				return
			}
		}
	}()

	// Give the writer time to fill the buffers and block.
	select {
	case err := <-writerDone:
		t.Fatalf("writer stopped before blocking: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	start := time.Now()
	_ = conn.Close(protocol.CloseNormal, "")
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Close took %v behind a blocked write", elapsed)
	}

	select {
	case <-writerDone:
	case <-time.After(3 * time.Second):
		t.Error("blocked writer was not released by Close")
	}
}
