package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// Deployment status values reported by the runtime target.
const (
	DeployStatusStarted = "STARTED"
	DeployStatusError   = "ERROR"
)

// RuntimeTarget is the deployment target adapter: it pushes artifact
// binaries, triggers deployments and polls their status.
type RuntimeTarget struct {
	client *Client
}

func NewRuntimeTarget(auth credential.Auth, sink LogSink, opts ...Option) *RuntimeTarget {
	return &RuntimeTarget{client: NewClient(auth, sink, opts...)}
}

// Upload pushes the artifact binary to the target, updating in place and
// falling back to create when the artifact does not exist there yet.
func (r *RuntimeTarget) Upload(ctx context.Context, artifact domain.ArtifactDescriptor, content []byte) error {
	path, err := artifactPath(artifact)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{
		"Name":            artifact.Name,
		"ArtifactContent": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return &CallError{Op: "runtime.upload", Err: err}
	}

	_, err = r.client.do(ctx, "runtime.upload", request{
		method:      "PUT",
		path:        path,
		body:        payload,
		contentType: "application/json",
	})
	if err == nil {
		r.client.sink.Logf("updated artifact %s on deployment target", artifact.Name)
		return nil
	}
	if !IsNotFound(err) {
		return err
	}

	r.client.sink.Logf("artifact %s not present on target, creating it", artifact.Name)
	collection, err := collectionFor(artifact)
	if err != nil {
		return err
	}
	createPayload, err := json.Marshal(map[string]string{
		"Name":            artifact.Name,
		"Id":              artifact.Name,
		"PackageId":       artifact.PackageID,
		"ArtifactContent": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return &CallError{Op: "runtime.create", Err: err}
	}
	_, err = r.client.do(ctx, "runtime.create", request{
		method:      "POST",
		path:        "/api/v1/" + collection,
		body:        createPayload,
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	r.client.sink.Logf("created artifact %s on deployment target", artifact.Name)
	return nil
}

// TriggerDeploy starts the remote deployment. A 409 means the artifact is
// already deployed and is treated as success-continue.
func (r *RuntimeTarget) TriggerDeploy(ctx context.Context, artifact domain.ArtifactDescriptor) error {
	query := url.Values{
		"Id":      []string{fmt.Sprintf("'%s'", artifact.Name)},
		"Version": []string{"'active'"},
	}
	_, err := r.client.do(ctx, "runtime.deploy", request{
		method: "POST",
		path:   "/api/v1/DeployIntegrationDesigntimeArtifact",
		query:  query,
	})
	if err != nil {
		if IsConflict(err) {
			r.client.sink.Logf("artifact %s already deployed, continuing", artifact.Name)
			return nil
		}
		return err
	}
	r.client.sink.Logf("deployment of %s triggered", artifact.Name)
	return nil
}

type runtimeStatusResponse struct {
	D struct {
		Status string `json:"Status"`
	} `json:"d"`
	Status string `json:"Status"`
}

// Status reads the current deployment status of the artifact.
func (r *RuntimeTarget) Status(ctx context.Context, artifactID string) (string, error) {
	body, err := r.client.do(ctx, "runtime.status", request{
		method: "GET",
		path:   fmt.Sprintf("/api/v1/IntegrationRuntimeArtifacts('%s')", url.PathEscape(artifactID)),
	})
	if err != nil {
		return "", err
	}
	var resp runtimeStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &CallError{Op: "runtime.status", Err: err}
	}
	status := resp.Status
	if resp.D.Status != "" {
		status = resp.D.Status
	}
	return strings.ToUpper(strings.TrimSpace(status)), nil
}

// ErrorDetail resolves the deferred error payload of a failed deployment.
// A 404 means the detail has not propagated yet.
func (r *RuntimeTarget) ErrorDetail(ctx context.Context, artifactID string) (string, error) {
	body, err := r.client.do(ctx, "runtime.error_detail", request{
		method: "GET",
		path:   fmt.Sprintf("/api/v1/IntegrationRuntimeArtifacts('%s')/ErrorInformation/$value", url.PathEscape(artifactID)),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// AwaitStarted polls the deployment status at a fixed interval for up to
// maxAttempts. STARTED is success. ERROR resolves the deferred detail and
// fails with a DeploymentError, except that a 404 on the detail call means
// the detail has not propagated yet and polling continues. Exhausting all
// attempts while still pending returns ErrPollingExhausted, which callers
// treat as a soft, non-fatal outcome by documented policy.
func (r *RuntimeTarget) AwaitStarted(ctx context.Context, artifactID string, interval time.Duration, maxAttempts int) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 20
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := r.Status(ctx, artifactID)
		if err != nil {
			r.client.sink.Logf("status poll %d/%d for %s failed: %v", attempt, maxAttempts, artifactID, err)
		} else {
			switch status {
			case DeployStatusStarted:
				r.client.sink.Logf("artifact %s reported STARTED after %d polls", artifactID, attempt)
				return nil
			case DeployStatusError:
				detail, detailErr := r.ErrorDetail(ctx, artifactID)
				if detailErr != nil {
					if IsNotFound(detailErr) {
						r.client.sink.Logf("artifact %s reported ERROR, detail not propagated yet, continuing to poll", artifactID)
						break
					}
					return &DeploymentError{ArtifactID: artifactID, Status: status, Detail: detailErr.Error()}
				}
				return &DeploymentError{ArtifactID: artifactID, Status: status, Detail: detail}
			default:
				r.client.sink.Logf("artifact %s status %s, poll %d/%d", artifactID, status, attempt, maxAttempts)
			}
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return ErrPollingExhausted
}
