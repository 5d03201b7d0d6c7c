package tailsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"retry"}`))
			return
		}
		if r.URL.Path != "/v1/conversations/c_retry/open" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("expected correlation id header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversationId":"c_retry","hydrated":false,"buffered":0}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	state, err := client.OpenConversation(context.Background(), "c_retry")
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if state.ConversationID != "c_retry" {
		t.Fatalf("expected conversation c_retry, got %s", state.ConversationID)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestHTTPClientPostEnvelopesSendsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/v1/conversations/c%2F1/envelopes" {
			t.Errorf("unexpected path %q", r.URL.EscapedPath())
		}
		body, _ := io.ReadAll(r.Body)
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil || len(items) != 2 {
			t.Errorf("expected array of 2 envelopes, got %s", body)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"conversationId":"c/1","accepted":2,"buffered":2}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	state, err := client.PostEnvelopes(context.Background(), "c/1", []json.RawMessage{
		json.RawMessage(`{"sem":true}`),
		json.RawMessage(`{"sem":true,"event":{"type":"log","id":"l1"}}`),
	})
	if err != nil {
		t.Fatalf("post envelopes failed: %v", err)
	}
	if state.Accepted != 2 {
		t.Fatalf("expected 2 accepted, got %d", state.Accepted)
	}

	empty, err := client.PostEnvelopes(context.Background(), "c/1", nil)
	if err != nil || empty.Accepted != 0 {
		t.Fatalf("expected empty batch to be a no-op, got %+v (%v)", empty, err)
	}
}

func TestHTTPClientMapsClosedConversation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"conversation_closed","message":"conversation closed","correlationId":"x"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	_, err := client.PostEnvelopes(context.Background(), "c1", []json.RawMessage{json.RawMessage(`{"sem":true}`)})
	if !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected HTTPError with 409, got %v", err)
	}
}

func TestRetryDelayHonorsRetryAfterAndCap(t *testing.T) {
	client := NewHTTPClient("", "", nil)
	if got := client.retryDelay(1, ""); got != 100*time.Millisecond {
		t.Fatalf("expected base delay, got %s", got)
	}
	if got := client.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected doubled delay, got %s", got)
	}
	if got := client.retryDelay(10, ""); got != 2*time.Second {
		t.Fatalf("expected capped delay, got %s", got)
	}
	if got := client.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("expected Retry-After delay, got %s", got)
	}
	if got := client.retryDelay(1, "120"); got != 2*time.Second {
		t.Fatalf("expected Retry-After to be capped, got %s", got)
	}
}

func TestStreamURL(t *testing.T) {
	got, err := StreamURL("https://timeline.example.com/", "c1")
	if err != nil || got != "wss://timeline.example.com/v1/conversations/c1/stream" {
		t.Fatalf("unexpected stream url %q (%v)", got, err)
	}
	got, err = StreamURL("http://127.0.0.1:8080", "c 2")
	if err != nil || got != "ws://127.0.0.1:8080/v1/conversations/c%202/stream" {
		t.Fatalf("unexpected stream url %q (%v)", got, err)
	}
	if _, err := StreamURL("ftp://host", "c1"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
