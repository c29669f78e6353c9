package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func TestDialReadClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(klineFrame))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := NewDialer(time.Second).Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if _, err := DecodeKline(frame); err != nil {
		t.Fatalf("DecodeKline: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		errCh <- err
	}()

	if err := conn.Close(); err != nil {
		t.Logf("Close: %v", err)
	}
	_ = conn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrWSDisconnect) {
			t.Fatalf("ReadFrame after Close = %v, want ErrWSDisconnect", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not unblock after Close")
	}
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := NewDialer(time.Second).Dial(context.Background(), url); err == nil {
		t.Fatal("Dial succeeded against a non-websocket endpoint")
	}
}
