package stage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/connector"
	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// DeployHandler drives one artifact from the design-time store to a started
// runtime deployment: existence pre-check, download, optional relay through
// the source-control location captured by the code stage, push to the
// target, deploy trigger and status polling.
type DeployHandler struct {
	deps Deps
}

func (h *DeployHandler) Execute(ctx context.Context, req Request) Result {
	artifacts := selectedArtifacts(req.Stage)
	if len(artifacts) == 0 {
		req.Log.Logf("stage %s: no artifacts selected for deployment", req.Stage.ID)
		return skipped("no artifacts selected")
	}

	design := h.deps.NewDesign(req.Auth, req.Log)
	runtime := h.deps.NewRuntime(req.Auth, req.Log)

	for _, artifact := range artifacts {
		if result, ok := h.deployOne(ctx, req, design, runtime, artifact); !ok {
			return result
		}
	}
	return succeeded(fmt.Sprintf("%d artifact(s) deployed", len(artifacts)))
}

func (h *DeployHandler) deployOne(ctx context.Context, req Request, design DesignStoreAPI, runtime RuntimeTargetAPI, artifact domain.ArtifactDescriptor) (Result, bool) {
	log := req.Log

	// Pre-check is advisory only: a missing artifact is deferred to the
	// upload step, which attempts create-on-missing.
	exists, err := design.Exists(ctx, artifact)
	if err != nil {
		var typeErr *domain.ArtifactTypeError
		if errors.As(err, &typeErr) {
			log.Logf("stage %s: %v", req.Stage.ID, typeErr)
			return failed(typeErr.Error()), false
		}
		log.Logf("stage %s: pre-check of %s failed, deferring to upload: %v", req.Stage.ID, artifact.Name, err)
	} else if !exists {
		log.Logf("stage %s: artifact %s not found in design-time store, upload will attempt create", req.Stage.ID, artifact.Name)
	}

	content, err := design.Download(ctx, artifact)
	if err != nil {
		log.Logf("stage %s: download of %s failed: %v", req.Stage.ID, artifact.Name, err)
		return failed(fmt.Sprintf("download of %s failed: %v", artifact.Name, err)), false
	}

	h.archive(ctx, req, artifact, content)

	if req.Run.Ready() {
		content = h.relay(ctx, req, artifact, content)
	} else {
		log.Logf("stage %s: no source context captured in this run, skipping relay of %s", req.Stage.ID, artifact.Name)
	}

	if err := runtime.Upload(ctx, artifact, content); err != nil {
		log.Logf("stage %s: push of %s to deployment target failed: %v", req.Stage.ID, artifact.Name, err)
		return failed(fmt.Sprintf("push of %s failed: %v", artifact.Name, err)), false
	}

	if err := runtime.TriggerDeploy(ctx, artifact); err != nil {
		log.Logf("stage %s: deploy trigger for %s failed: %v", req.Stage.ID, artifact.Name, err)
		return failed(fmt.Sprintf("deploy trigger for %s failed: %v", artifact.Name, err)), false
	}

	err = runtime.AwaitStarted(ctx, artifact.Name, h.deps.PollInterval, h.deps.PollAttempts)
	switch {
	case err == nil:
		log.Logf("stage %s: artifact %s deployed and started", req.Stage.ID, artifact.Name)
	case errors.Is(err, connector.ErrPollingExhausted):
		// Documented leniency: still-pending after the poll budget is a
		// soft outcome, not a stage failure.
		log.Logf("stage %s: WARNING: deployment of %s still pending after %d polls, continuing without a terminal status", req.Stage.ID, artifact.Name, h.deps.PollAttempts)
	default:
		var deployErr *connector.DeploymentError
		if errors.As(err, &deployErr) {
			log.Logf("stage %s: %v", req.Stage.ID, deployErr)
			return failed(deployErr.Error()), false
		}
		log.Logf("stage %s: status polling for %s failed: %v", req.Stage.ID, artifact.Name, err)
		return failed(fmt.Sprintf("status polling for %s failed: %v", artifact.Name, err)), false
	}
	return Result{}, true
}

// relay round-trips the binary through the source-control location captured
// by the code stage and verifies the container signature. Relay failures and
// signature mismatches degrade to warnings; the original binary is used
// when the relayed copy cannot be fetched back.
func (h *DeployHandler) relay(ctx context.Context, req Request, artifact domain.ArtifactDescriptor, content []byte) []byte {
	log := req.Log
	run := req.Run
	host := h.deps.NewSourceHost(relayAuth(req), log)
	filePath := path.Join(run.BasePath, artifact.Name+".zip")

	contentID, err := host.ContentID(ctx, run.RepoOwner, run.RepoName, filePath, run.Branch)
	if err != nil {
		log.Logf("stage %s: relay lookup of %s failed, skipping relay: %v", req.Stage.ID, filePath, err)
		return content
	}
	message := fmt.Sprintf("Store %s for execution %s", artifact.Name, req.Execution.ID)
	if err := host.PutContent(ctx, run.RepoOwner, run.RepoName, filePath, run.Branch, message, content, contentID); err != nil {
		log.Logf("stage %s: relay upload of %s failed, deploying original binary: %v", req.Stage.ID, filePath, err)
		return content
	}

	relayed, err := host.GetContent(ctx, run.RepoOwner, run.RepoName, filePath, run.Branch)
	if err != nil {
		log.Logf("stage %s: relayed %s could not be fetched back, deploying original binary: %v", req.Stage.ID, filePath, err)
		return content
	}
	if !connector.HasZipSignature(relayed) {
		// Legitimate encoding variance exists on the relay path; this is
		// a warning, never a hard failure.
		log.Logf("stage %s: WARNING: relayed %s lacks the expected container signature", req.Stage.ID, filePath)
	}
	log.Logf("stage %s: relayed %s through %s/%s@%s", req.Stage.ID, artifact.Name, run.RepoOwner, run.RepoName, run.Branch)
	return relayed
}

func (h *DeployHandler) archive(ctx context.Context, req Request, artifact domain.ArtifactDescriptor, content []byte) {
	if h.deps.Archive == nil {
		return
	}
	key := path.Join(req.Execution.ID, req.Stage.ID, artifact.Name+".zip")
	if err := h.deps.Archive.Put(ctx, key, content); err != nil {
		req.Log.Logf("stage %s: archiving %s failed: %v", req.Stage.ID, artifact.Name, err)
		return
	}
	req.Log.Logf("stage %s: archived %s as %s", req.Stage.ID, artifact.Name, key)
}

// relayAuth rebuilds source-host auth from the context captured by the code
// stage; the deploy stage's own credentials belong to the platform, not the
// source host.
func relayAuth(req Request) credential.Auth {
	auth := credential.Auth{}
	if req.Run != nil {
		auth.URL = req.Run.HostURL
		auth.Token = req.Run.Token
	}
	return auth
}

func selectedArtifacts(stage domain.Stage) []domain.ArtifactDescriptor {
	if stage.ToolConfig == nil {
		return nil
	}
	out := make([]domain.ArtifactDescriptor, 0, len(stage.ToolConfig.Artifacts))
	for _, artifact := range stage.ToolConfig.Artifacts {
		if strings.TrimSpace(artifact.Name) == "" {
			continue
		}
		out = append(out, artifact)
	}
	return out
}
