package stage

import (
	"context"
	"fmt"
	"strings"
)

// CodeHandler verifies repository and branch reachability and captures the
// cross-stage run context a later deploy stage reuses for the relay step.
type CodeHandler struct {
	deps Deps
}

func (h *CodeHandler) Execute(ctx context.Context, req Request) Result {
	if !req.Stage.HasTool() || req.Auth.Empty() {
		req.Log.Logf("stage %s: no source host configured, passing through", req.Stage.ID)
		return succeeded("no source host configured")
	}

	owner, repo, ok := repositoryOf(req)
	if !ok {
		req.Log.Logf("stage %s: no repository configured, passing through", req.Stage.ID)
		return succeeded("no repository configured")
	}
	branch := branchOf(req)

	host := h.deps.NewSourceHost(req.Auth, req.Log)
	if err := host.CheckRepository(ctx, owner, repo); err != nil {
		return failed(fmt.Sprintf("repository %s/%s unreachable: %v", owner, repo, err))
	}
	if err := host.CheckBranch(ctx, owner, repo, branch); err != nil {
		return failed(fmt.Sprintf("branch %s not found in %s/%s: %v", branch, owner, repo, err))
	}

	if req.Run != nil {
		req.Run.HostURL = req.Auth.URL
		req.Run.RepoOwner = owner
		req.Run.RepoName = repo
		req.Run.Branch = branch
		req.Run.Token = firstNonEmpty(req.Auth.Token, req.Auth.APIKey, req.Auth.Password)
		req.Run.BasePath = basePathOf(req)
		req.Log.Logf("stage %s: captured source context %s/%s@%s for later stages", req.Stage.ID, owner, repo, branch)
	}
	return succeeded(fmt.Sprintf("repository %s/%s@%s verified", owner, repo, branch))
}

func repositoryOf(req Request) (string, string, bool) {
	repository, _ := req.Stage.Config.String("repository")
	repository = strings.Trim(strings.TrimSpace(repository), "/")
	if repository == "" {
		return "", "", false
	}
	// Accept either "owner/name" or a full URL ending in it.
	parts := strings.Split(repository, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner := parts[len(parts)-2]
	name := strings.TrimSuffix(parts[len(parts)-1], ".git")
	if owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

func branchOf(req Request) string {
	if branch, ok := req.Stage.Config.String("branch"); ok {
		return branch
	}
	if req.Branch != "" {
		return req.Branch
	}
	return "main"
}

func basePathOf(req Request) string {
	if base, ok := req.Stage.Config.String("basePath"); ok {
		return strings.Trim(base, "/")
	}
	return "artifacts"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
