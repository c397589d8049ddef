package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/connector"
	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) Logf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

func (s *memorySink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type fakeDesign struct {
	existsErr   error
	exists      bool
	content     []byte
	downloadErr error
}

func (f *fakeDesign) Exists(ctx context.Context, artifact domain.ArtifactDescriptor) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeDesign) Download(ctx context.Context, artifact domain.ArtifactDescriptor) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.content, nil
}

type fakeRuntime struct {
	uploadErr  error
	deployErr  error
	awaitErr   error
	uploaded   [][]byte
	deployed   []string
	awaitCalls int
}

func (f *fakeRuntime) Upload(ctx context.Context, artifact domain.ArtifactDescriptor, content []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = append(f.uploaded, content)
	return nil
}

func (f *fakeRuntime) TriggerDeploy(ctx context.Context, artifact domain.ArtifactDescriptor) error {
	if f.deployErr != nil {
		return f.deployErr
	}
	f.deployed = append(f.deployed, artifact.Name)
	return nil
}

func (f *fakeRuntime) AwaitStarted(ctx context.Context, artifactID string, interval time.Duration, maxAttempts int) error {
	f.awaitCalls++
	return f.awaitErr
}

type fakeHost struct {
	contentID  string
	getContent []byte
	putErr     error
	getErr     error
	lookupErr  error
	puts       int
}

func (f *fakeHost) CheckRepository(ctx context.Context, owner, repo string) error { return nil }
func (f *fakeHost) CheckBranch(ctx context.Context, owner, repo, branch string) error {
	return nil
}

func (f *fakeHost) ContentID(ctx context.Context, owner, repo, path, branch string) (string, error) {
	return f.contentID, f.lookupErr
}

func (f *fakeHost) PutContent(ctx context.Context, owner, repo, path, branch, message string, content []byte, contentID string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	return nil
}

func (f *fakeHost) GetContent(ctx context.Context, owner, repo, path, branch string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getContent, nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Put(ctx context.Context, key string, content []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	return nil
}

func deployHandler(design *fakeDesign, runtime *fakeRuntime, host *fakeHost, archive ArchiveStore) *DeployHandler {
	deps := Deps{
		NewDesign: func(auth credential.Auth, sink connector.LogSink) DesignStoreAPI {
			return design
		},
		NewRuntime: func(auth credential.Auth, sink connector.LogSink) RuntimeTargetAPI {
			return runtime
		},
		NewSourceHost: func(auth credential.Auth, sink connector.LogSink) SourceHostAPI {
			return host
		},
		Archive:      archive,
		PollInterval: time.Millisecond,
		PollAttempts: 2,
	}
	return &DeployHandler{deps: deps.withDefaults()}
}

func deployRequest(sink *memorySink, run *RunContext) Request {
	return Request{
		Execution: domain.ExecutionRecord{ID: "exec-1"},
		Node:      domain.Node{ID: "dev"},
		Stage: domain.Stage{
			ID:           "deploy-1",
			Type:         domain.StageTypeDeploy,
			Enabled:      true,
			ToolSelected: true,
			ToolConfig: &domain.ToolConfig{
				Artifacts: []domain.ArtifactDescriptor{
					{Name: "OrderFlow", Type: "integration_flow", PackageID: "pkg-1"},
				},
			},
		},
		Auth: credential.Auth{URL: "https://cpi", Token: "t"},
		Run:  run,
		Log:  sink,
	}
}

func TestDeploy_HappyPathWithoutRelay(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04data")}
	runtime := &fakeRuntime{}
	archive := &fakeArchive{}
	h := deployHandler(design, runtime, &fakeHost{}, archive)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s (%s), want SUCCESS", result.Status, result.Message)
	}
	if len(runtime.uploaded) != 1 || len(runtime.deployed) != 1 {
		t.Fatalf("uploads=%d deploys=%d, want 1/1", len(runtime.uploaded), len(runtime.deployed))
	}
	if len(archive.keys) != 1 || archive.keys[0] != "exec-1/deploy-1/OrderFlow.zip" {
		t.Fatalf("archive keys=%v", archive.keys)
	}
	if !sink.contains("skipping relay") {
		t.Fatalf("expected relay skip without source context, lines=%v", sink.lines)
	}
}

func TestDeploy_PreCheckFailureIsNonFatal(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{
		existsErr: &connector.CallError{Op: "design.exists", StatusCode: 500},
		content:   []byte("PK\x03\x04"),
	}
	runtime := &fakeRuntime{}
	h := deployHandler(design, runtime, &fakeHost{}, nil)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s, want pre-check failure deferred to upload", result.Status)
	}
	if !sink.contains("deferring to upload") {
		t.Fatalf("expected pre-check deferral log, lines=%v", sink.lines)
	}
}

func TestDeploy_UnknownArtifactTypeFailsStage(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{existsErr: &domain.ArtifactTypeError{Value: "mystery"}}
	h := deployHandler(design, &fakeRuntime{}, &fakeHost{}, nil)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageFailed {
		t.Fatalf("Status=%s, want FAILED on unsupported artifact type", result.Status)
	}
	if !strings.Contains(result.Message, "mystery") {
		t.Fatalf("Message=%q", result.Message)
	}
}

func TestDeploy_DownloadFailureFailsStage(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, downloadErr: &connector.CallError{Op: "design.download", StatusCode: 500}}
	h := deployHandler(design, &fakeRuntime{}, &fakeHost{}, nil)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageFailed {
		t.Fatalf("Status=%s, want FAILED on download error", result.Status)
	}
}

func TestDeploy_RelayRoundTripReplacesContent(t *testing.T) {
	sink := &memorySink{}
	relayed := []byte("PK\x03\x04relayed")
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04original")}
	runtime := &fakeRuntime{}
	host := &fakeHost{contentID: "sha-1", getContent: relayed}
	h := deployHandler(design, runtime, host, nil)

	run := &RunContext{HostURL: "https://git", RepoOwner: "org", RepoName: "repo", Branch: "main", Token: "tok", BasePath: "artifacts"}
	result := h.Execute(context.Background(), deployRequest(sink, run))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s (%s)", result.Status, result.Message)
	}
	if host.puts != 1 {
		t.Fatalf("puts=%d, want 1", host.puts)
	}
	if string(runtime.uploaded[0]) != string(relayed) {
		t.Fatalf("uploaded=%q, want relayed content", runtime.uploaded[0])
	}
}

func TestDeploy_RelayFailureDeploysOriginal(t *testing.T) {
	sink := &memorySink{}
	original := []byte("PK\x03\x04original")
	design := &fakeDesign{exists: true, content: original}
	runtime := &fakeRuntime{}
	host := &fakeHost{putErr: &connector.CallError{Op: "scm.put", StatusCode: 500}}
	h := deployHandler(design, runtime, host, nil)

	run := &RunContext{RepoOwner: "org", RepoName: "repo", Branch: "main"}
	result := h.Execute(context.Background(), deployRequest(sink, run))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s, want relay failure degraded to warning", result.Status)
	}
	if string(runtime.uploaded[0]) != string(original) {
		t.Fatalf("uploaded=%q, want original content", runtime.uploaded[0])
	}
}

func TestDeploy_SignatureMismatchIsWarningOnly(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04")}
	runtime := &fakeRuntime{}
	host := &fakeHost{getContent: []byte("not a zip")}
	h := deployHandler(design, runtime, host, nil)

	run := &RunContext{RepoOwner: "org", RepoName: "repo", Branch: "main"}
	result := h.Execute(context.Background(), deployRequest(sink, run))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s, want signature mismatch to stay a warning", result.Status)
	}
	if !sink.contains("WARNING") {
		t.Fatalf("expected a WARNING line, lines=%v", sink.lines)
	}
}

func TestDeploy_PollingExhaustedIsSoftOutcome(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04")}
	runtime := &fakeRuntime{awaitErr: connector.ErrPollingExhausted}
	h := deployHandler(design, runtime, &fakeHost{}, nil)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s, want exhausted polling to stay non-fatal", result.Status)
	}
	if !sink.contains("still pending") {
		t.Fatalf("expected pending warning, lines=%v", sink.lines)
	}
}

func TestDeploy_DeploymentErrorFailsWithDetail(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04")}
	runtime := &fakeRuntime{awaitErr: &connector.DeploymentError{ArtifactID: "OrderFlow", Status: "ERROR", Detail: "bad credentials on target"}}
	h := deployHandler(design, runtime, &fakeHost{}, nil)

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageFailed {
		t.Fatalf("Status=%s, want FAILED", result.Status)
	}
	if !strings.Contains(result.Message, "bad credentials on target") {
		t.Fatalf("Message=%q, want remote detail carried", result.Message)
	}
}

func TestDeploy_ArchiveFailureIsNonFatal(t *testing.T) {
	sink := &memorySink{}
	design := &fakeDesign{exists: true, content: []byte("PK\x03\x04")}
	runtime := &fakeRuntime{}
	h := deployHandler(design, runtime, &fakeHost{}, &fakeArchive{err: errors.New("bucket gone")})

	result := h.Execute(context.Background(), deployRequest(sink, &RunContext{}))
	if result.Status != domain.StageSucceeded {
		t.Fatalf("Status=%s, want archive failure ignored", result.Status)
	}
	if !sink.contains("archiving OrderFlow failed") {
		t.Fatalf("expected archive failure log, lines=%v", sink.lines)
	}
}

func TestDeploy_NoArtifactsSkips(t *testing.T) {
	sink := &memorySink{}
	h := deployHandler(&fakeDesign{}, &fakeRuntime{}, &fakeHost{}, nil)

	req := deployRequest(sink, &RunContext{})
	req.Stage.ToolConfig.Artifacts = nil
	result := h.Execute(context.Background(), req)
	if result.Status != domain.StageSkipped {
		t.Fatalf("Status=%s, want SKIPPED without artifacts", result.Status)
	}
}
