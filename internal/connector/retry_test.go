package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) Logf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

func (s *recordingSink) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, line := range s.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, Base: time.Millisecond}
}

func TestRetry_TransientFailuresThenSuccess(t *testing.T) {
	sink := &recordingSink{}
	calls := 0
	err := Retry(context.Background(), sink, "op", fastPolicy(), func() error {
		calls++
		if calls <= 3 {
			return &CallError{Op: "op", StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() err=%v, want success on final attempt", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d, want 4", calls)
	}
	if got := sink.count("retrying op"); got != 3 {
		t.Fatalf("retry log lines=%d, want 3", got)
	}
}

func TestRetry_BudgetExhausted(t *testing.T) {
	sink := &recordingSink{}
	calls := 0
	err := Retry(context.Background(), sink, "op", fastPolicy(), func() error {
		calls++
		return &CallError{Op: "op", StatusCode: http.StatusInternalServerError}
	})
	if StatusOf(err) != http.StatusInternalServerError {
		t.Fatalf("Retry() err=%v, want final 500", err)
	}
	if calls != 4 {
		t.Fatalf("calls=%d, want attempt budget of 4", calls)
	}
}

func TestRetry_DeterministicFailureNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), NopSink{}, "op", fastPolicy(), func() error {
		calls++
		return &CallError{Op: "op", StatusCode: http.StatusNotFound}
	})
	if StatusOf(err) != http.StatusNotFound {
		t.Fatalf("Retry() err=%v, want 404", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want no retries on 4xx", calls)
	}
}

func TestRetry_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, NopSink{}, "op", RetryPolicy{MaxAttempts: 4, Base: time.Minute}, func() error {
		return &CallError{Op: "op", StatusCode: http.StatusBadGateway}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() err=%v, want context.Canceled", err)
	}
}

func TestCallErrorTransient(t *testing.T) {
	cases := []struct {
		name string
		err  *CallError
		want bool
	}{
		{"500", &CallError{StatusCode: 500}, true},
		{"503", &CallError{StatusCode: 503}, true},
		{"404", &CallError{StatusCode: 404}, false},
		{"409", &CallError{StatusCode: 409}, false},
		{"network", &CallError{Err: errors.New("connection refused")}, true},
		{"canceled", &CallError{Err: context.Canceled}, false},
		{"deadline", &CallError{Err: context.DeadlineExceeded}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Transient(); got != tc.want {
				t.Fatalf("Transient()=%t, want %t", got, tc.want)
			}
		})
	}
}

func TestClient_RetriesServerErrorsAcrossHTTP(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	sink := &recordingSink{}
	client := NewClient(
		credential.Auth{URL: server.URL, Token: "t"},
		sink,
		WithRetryPolicy(fastPolicy()),
	)

	body, err := client.do(context.Background(), "test.op", request{method: "GET", path: "/thing"})
	if err != nil {
		t.Fatalf("do() err=%v", err)
	}
	if !strings.Contains(string(body), "ok") {
		t.Fatalf("body=%s", body)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
	if got := sink.count("GET /thing -> 502"); got != 2 {
		t.Fatalf("502 log lines=%d, want 2", got)
	}
}

func TestClient_ClientErrorIsImmediate(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "no such issue", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(
		credential.Auth{URL: server.URL, Token: "t"},
		NopSink{},
		WithRetryPolicy(fastPolicy()),
	)

	_, err := client.do(context.Background(), "test.op", request{method: "GET", path: "/missing"})
	if !IsNotFound(err) {
		t.Fatalf("do() err=%v, want 404", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
	var callErr *CallError
	if !errors.As(err, &callErr) || !strings.Contains(callErr.Detail, "no such issue") {
		t.Fatalf("err=%v, want detail carried", err)
	}
}

func TestHasZipSignature(t *testing.T) {
	if !HasZipSignature([]byte{0x50, 0x4B, 0x03, 0x04}) {
		t.Fatalf("zip signature should match")
	}
	if HasZipSignature([]byte("PK")) != true {
		t.Fatalf("PK prefix is the signature")
	}
	if HasZipSignature([]byte{0x1F, 0x8B}) {
		t.Fatalf("gzip magic should not match")
	}
	if HasZipSignature([]byte{0x50}) {
		t.Fatalf("single byte cannot match")
	}
}
