package zapier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/models"
)

func TestClientDeliver_SignsPayload(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"order_completed"}`)
	var gotSignature, gotEvent, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotEvent = r.Header.Get(EventHeader)
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	result := NewClient(server.Client()).Deliver(context.Background(), DeliveryRequest{
		URL:     server.URL,
		Secret:  "shh",
		Event:   models.EventOrderCompleted,
		Body:    body,
		Timeout: time.Second,
	})

	if !result.Success || result.StatusCode != http.StatusOK || result.Err != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotSignature != "sha256="+crypto.SignPayload("shh", body) {
		t.Fatalf("unexpected signature %q", gotSignature)
	}
	if gotEvent != "order_completed" || gotBody != string(body) {
		t.Fatalf("unexpected request: event=%q body=%q", gotEvent, gotBody)
	}
	if result.ResponseBody != `{"status":"success"}` {
		t.Fatalf("unexpected response body %q", result.ResponseBody)
	}
}

func TestClientDeliver_NoSecretNoSignature(t *testing.T) {
	t.Parallel()

	var sawSignature bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawSignature = r.Header[SignatureHeader]
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	result := NewClient(server.Client()).Deliver(context.Background(), DeliveryRequest{URL: server.URL, Body: []byte(`{}`)})
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if sawSignature {
		t.Fatal("expected no signature header without a secret")
	}
}

func TestClientDeliver_FailureStatusTruncatesBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer server.Close()

	result := NewClient(server.Client()).Deliver(context.Background(), DeliveryRequest{URL: server.URL, Body: []byte(`{}`)})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", result.StatusCode)
	}
	if len(result.ResponseBody) != MaxLoggedResponseChars {
		t.Fatalf("expected truncated body of %d chars, got %d", MaxLoggedResponseChars, len(result.ResponseBody))
	}
	if result.ErrorMessage() != "unexpected status 500" {
		t.Fatalf("unexpected error message %q", result.ErrorMessage())
	}
}

func TestClientDeliver_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	result := NewClient(server.Client()).Deliver(context.Background(), DeliveryRequest{
		URL:     server.URL,
		Body:    []byte(`{}`),
		Timeout: 50 * time.Millisecond,
	})
	if result.Success || result.Err == nil {
		t.Fatalf("expected timeout error, got %+v", result)
	}
}

func TestClientCheckReach(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	result := NewClient(server.Client()).CheckReach(context.Background(), server.URL, time.Second)
	if !result.Reachable || result.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected reach result: %+v", result)
	}
}

func TestClientCheckReach_Unreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := NewClient(nil).CheckReach(context.Background(), url, time.Second)
	if result.Reachable {
		t.Fatal("expected closed server to be unreachable")
	}
	if result.FailureKind != FailureNetwork {
		t.Fatalf("expected network failure, got %q (%v)", result.FailureKind, result.Err)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: context.DeadlineExceeded, want: FailureNetwork},
		{name: "other", err: errors.New("boom"), want: FailureUnknown},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateBody(t *testing.T) {
	t.Parallel()

	if got := TruncateBody("héllo", 2); got != "hé" {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := TruncateBody("short", 10); got != "short" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
