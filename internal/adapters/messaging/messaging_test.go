package messaging_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dispatchd/internal/adapters/messaging"
	"go.uber.org/zap"
)

func TestSendPrimaryGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		case "/send-message":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter := messaging.NewAdapter(srv.URL, 0, "", "", zap.NewNop())
	result, err := adapter.Send(context.Background(), messaging.SendRequest{Number: "+15551234", Message: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Status != "sent" || result.UsedFallback {
		t.Errorf("Send() result = %+v", result)
	}
}

func TestSendFallsBackOnPrimaryFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	var fallbackHit int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fallbackHit, 1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	adapter := messaging.NewAdapter(primary.URL, 0, fallback.URL, "tok", zap.NewNop())
	result, err := adapter.Send(context.Background(), messaging.SendRequest{Number: "+15551234", Message: "hi"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.UsedFallback {
		t.Error("Send() result.UsedFallback = false, want true")
	}
	if atomic.LoadInt32(&fallbackHit) != 1 {
		t.Errorf("fallback hit %d times, want 1", fallbackHit)
	}
}

func TestSendMissingRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}))
	defer srv.Close()

	adapter := messaging.NewAdapter(srv.URL, 0, "", "", zap.NewNop())
	if _, err := adapter.Send(context.Background(), messaging.SendRequest{Message: "hi"}); err == nil {
		t.Error("Send() with no number/groupId = nil error, want error")
	}
}

func TestSendSerializesPerEndpoint(t *testing.T) {
	var active int32
	var maxActive int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		cur := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := messaging.NewAdapter(srv.URL, 0, "", "", zap.NewNop())

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func(n int) {
			adapter.Send(context.Background(), messaging.SendRequest{Number: "+1555", Message: "hi"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if atomic.LoadInt32(&maxActive) != 1 {
		t.Errorf("max concurrent sends to one endpoint = %d, want 1", maxActive)
	}
}
