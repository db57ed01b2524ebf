// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ampsim/internal/monitor"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, wst *WebSocketTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for wst.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("%d clients, want %d", wst.Clients(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()
	defer wst.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + MonitorPath
	a := dial(t, url)
	b := dial(t, url)
	waitClients(t, wst, 2)

	want := NewMessage(3, time.Unix(0, 42), monitor.Snapshot{Peak: 0.5, Pitch: 110})
	if err := wst.Send(want); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var got Message
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("received %+v, want %+v", got, want)
		}
	}

	a.Close()
	waitClients(t, wst, 1)
}

func TestWebSocketStartAndClose(t *testing.T) {
	wst := NewWebSocketTransport("127.0.0.1:0")
	if err := wst.Start(); err != nil {
		t.Fatal(err)
	}
	if strings.HasSuffix(wst.Addr(), ":0") {
		t.Errorf("Addr() = %q, want bound port", wst.Addr())
	}

	conn := dial(t, "ws://"+wst.Addr()+MonitorPath)
	waitClients(t, wst, 1)

	if err := wst.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := wst.Send(Message{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: err = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after Close")
	}
}

func TestWebSocketStartBadAddress(t *testing.T) {
	wst := NewWebSocketTransport("256.0.0.1:bad")
	defer wst.Close()
	if err := wst.Start(); err == nil {
		t.Error("Start on invalid address succeeded")
	}
}
