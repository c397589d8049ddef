package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
)

// SourceHost is the source-code host adapter used by code stages and by the
// deploy relay step. It speaks a contents-style API: files are addressed by
// repository, path and branch, and updates must carry the current content
// identifier of the file being replaced.
type SourceHost struct {
	client *Client
}

func NewSourceHost(auth credential.Auth, sink LogSink, opts ...Option) *SourceHost {
	return &SourceHost{client: NewClient(auth, sink, opts...)}
}

// CheckRepository verifies the repository is reachable with the resolved
// credentials.
func (s *SourceHost) CheckRepository(ctx context.Context, owner, repo string) error {
	_, err := s.client.do(ctx, "scm.repository", request{
		method: "GET",
		path:   fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)),
	})
	if err != nil {
		return err
	}
	s.client.sink.Logf("repository %s/%s is reachable", owner, repo)
	return nil
}

// CheckBranch verifies the branch exists.
func (s *SourceHost) CheckBranch(ctx context.Context, owner, repo, branch string) error {
	_, err := s.client.do(ctx, "scm.branch", request{
		method: "GET",
		path:   fmt.Sprintf("/repos/%s/%s/branches/%s", url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(branch)),
	})
	if err != nil {
		return err
	}
	s.client.sink.Logf("branch %s exists in %s/%s", branch, owner, repo)
	return nil
}

type contentResponse struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// ContentID returns the current content identifier of a file, or empty when
// the file does not exist yet.
func (s *SourceHost) ContentID(ctx context.Context, owner, repo, path, branch string) (string, error) {
	body, err := s.client.do(ctx, "scm.content", request{
		method: "GET",
		path:   contentPath(owner, repo, path),
		query:  url.Values{"ref": []string{branch}},
	})
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	var resp contentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &CallError{Op: "scm.content", Err: err}
	}
	return resp.SHA, nil
}

// PutContent creates or updates a file on the branch. A non-empty contentID
// turns the call into an update of the existing version.
func (s *SourceHost) PutContent(ctx context.Context, owner, repo, path, branch, message string, content []byte, contentID string) error {
	payload := map[string]string{
		"message": message,
		"branch":  branch,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if contentID != "" {
		payload["sha"] = contentID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &CallError{Op: "scm.put_content", Err: err}
	}
	_, err = s.client.do(ctx, "scm.put_content", request{
		method:      "PUT",
		path:        contentPath(owner, repo, path),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	if contentID != "" {
		s.client.sink.Logf("updated %s on branch %s in %s/%s", path, branch, owner, repo)
	} else {
		s.client.sink.Logf("created %s on branch %s in %s/%s", path, branch, owner, repo)
	}
	return nil
}

// GetContent fetches and decodes a file from the branch.
func (s *SourceHost) GetContent(ctx context.Context, owner, repo, path, branch string) ([]byte, error) {
	body, err := s.client.do(ctx, "scm.content", request{
		method: "GET",
		path:   contentPath(owner, repo, path),
		query:  url.Values{"ref": []string{branch}},
	})
	if err != nil {
		return nil, err
	}
	var resp contentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &CallError{Op: "scm.content", Err: err}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, &CallError{Op: "scm.content", Err: err}
	}
	return decoded, nil
}

func contentPath(owner, repo, path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), strings.Join(segments, "/"))
}
