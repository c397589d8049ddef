package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

func newTestRuntime(t *testing.T, handler http.Handler) (*RuntimeTarget, *recordingSink, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	sink := &recordingSink{}
	target := NewRuntimeTarget(
		credential.Auth{URL: server.URL, Token: "t"},
		sink,
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Base: time.Millisecond}),
	)
	return target, sink, server.Close
}

func TestAwaitStarted_SucceedsAfterPending(t *testing.T) {
	var polls int
	target, _, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "STARTING"
		if polls >= 3 {
			status = "STARTED"
		}
		fmt.Fprintf(w, `{"d":{"Status":%q}}`, status)
	}))
	defer closeFn()

	if err := target.AwaitStarted(context.Background(), "OrderFlow", time.Millisecond, 5); err != nil {
		t.Fatalf("AwaitStarted() err=%v", err)
	}
	if polls != 3 {
		t.Fatalf("polls=%d, want 3", polls)
	}
}

func TestAwaitStarted_ErrorResolvesDetail(t *testing.T) {
	target, _, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/IntegrationRuntimeArtifacts('OrderFlow')/ErrorInformation/$value" {
			_, _ = w.Write([]byte("missing credential alias on target"))
			return
		}
		_, _ = w.Write([]byte(`{"d":{"Status":"ERROR"}}`))
	}))
	defer closeFn()

	err := target.AwaitStarted(context.Background(), "OrderFlow", time.Millisecond, 5)
	var deployErr *DeploymentError
	if !errors.As(err, &deployErr) {
		t.Fatalf("AwaitStarted() err=%v, want DeploymentError", err)
	}
	if deployErr.Detail != "missing credential alias on target" {
		t.Fatalf("Detail=%q", deployErr.Detail)
	}
}

func TestAwaitStarted_ErrorDetailNotPropagatedKeepsPolling(t *testing.T) {
	var statusPolls int
	target, sink, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/IntegrationRuntimeArtifacts('OrderFlow')/ErrorInformation/$value" {
			http.NotFound(w, r)
			return
		}
		statusPolls++
		if statusPolls >= 2 {
			_, _ = w.Write([]byte(`{"d":{"Status":"STARTED"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"d":{"Status":"ERROR"}}`))
	}))
	defer closeFn()

	if err := target.AwaitStarted(context.Background(), "OrderFlow", time.Millisecond, 5); err != nil {
		t.Fatalf("AwaitStarted() err=%v, want recovery after transient ERROR", err)
	}
	if got := sink.count("detail not propagated yet"); got != 1 {
		t.Fatalf("missing the deferred-detail log line, lines=%v", sink.lines)
	}
}

func TestAwaitStarted_ExhaustedReturnsSentinel(t *testing.T) {
	target, _, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"d":{"Status":"DEPLOYING"}}`))
	}))
	defer closeFn()

	err := target.AwaitStarted(context.Background(), "OrderFlow", time.Millisecond, 2)
	if !errors.Is(err, ErrPollingExhausted) {
		t.Fatalf("AwaitStarted() err=%v, want ErrPollingExhausted", err)
	}
}

func TestUpload_FallsBackToCreateOn404(t *testing.T) {
	var putCalls, postCalls int
	target, _, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			putCalls++
			http.NotFound(w, r)
		case http.MethodPost:
			postCalls++
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer closeFn()

	artifact := domain.ArtifactDescriptor{Name: "OrderFlow", Type: "integration_flow", PackageID: "pkg-1"}
	if err := target.Upload(context.Background(), artifact, []byte("PK\x03\x04")); err != nil {
		t.Fatalf("Upload() err=%v", err)
	}
	if putCalls != 1 || postCalls != 1 {
		t.Fatalf("putCalls=%d postCalls=%d, want 1/1", putCalls, postCalls)
	}
}

func TestTriggerDeploy_ConflictIsContinue(t *testing.T) {
	target, sink, closeFn := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer closeFn()

	artifact := domain.ArtifactDescriptor{Name: "OrderFlow", Type: "integration_flow"}
	if err := target.TriggerDeploy(context.Background(), artifact); err != nil {
		t.Fatalf("TriggerDeploy() err=%v, want 409 treated as continue", err)
	}
	if got := sink.count("already deployed"); got != 1 {
		t.Fatalf("missing already-deployed log line, lines=%v", sink.lines)
	}
}

func TestUnknownArtifactTypeIsTypedError(t *testing.T) {
	target, _, closeFn := newTestRuntime(t, http.NotFoundHandler())
	defer closeFn()

	artifact := domain.ArtifactDescriptor{Name: "X", Type: "mystery_blob"}
	err := target.Upload(context.Background(), artifact, nil)
	var typeErr *domain.ArtifactTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("Upload() err=%v, want ArtifactTypeError", err)
	}
}
