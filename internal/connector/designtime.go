package connector

import (
	"context"
	"fmt"
	"net/url"

	"github.com/flowdeck-labs/flowdeck-go/internal/credential"
	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// DesignStore is the integration-platform design-time artifact store
// adapter. It resolves the artifact kind at request-build time; unknown
// kinds are rejected with the typed artifact error, never defaulted.
type DesignStore struct {
	client *Client
}

func NewDesignStore(auth credential.Auth, sink LogSink, opts ...Option) *DesignStore {
	return &DesignStore{client: NewClient(auth, sink, opts...)}
}

// collectionFor maps a canonical artifact kind to its design-time API
// collection.
func collectionFor(artifact domain.ArtifactDescriptor) (string, error) {
	kind, err := domain.ParseArtifactType(artifact.Type)
	if err != nil {
		return "", err
	}
	switch kind {
	case domain.ArtifactIntegrationFlow:
		return "IntegrationDesigntimeArtifacts", nil
	case domain.ArtifactValueMapping:
		return "ValueMappingDesigntimeArtifacts", nil
	case domain.ArtifactScriptCollection:
		return "ScriptCollectionDesigntimeArtifacts", nil
	case domain.ArtifactMessageMapping:
		return "MessageMappingDesigntimeArtifacts", nil
	default:
		return "", &domain.ArtifactTypeError{Value: artifact.Type}
	}
}

func artifactPath(artifact domain.ArtifactDescriptor) (string, error) {
	collection, err := collectionFor(artifact)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/api/v1/%s(Id='%s',Version='active')", collection, url.PathEscape(artifact.Name)), nil
}

// Exists checks whether the artifact is present in the design-time store.
// A 404 is a definite "no", not an error.
func (d *DesignStore) Exists(ctx context.Context, artifact domain.ArtifactDescriptor) (bool, error) {
	path, err := artifactPath(artifact)
	if err != nil {
		return false, err
	}
	_, err = d.client.do(ctx, "designtime.exists", request{method: "GET", path: path})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Download fetches the artifact's packaged binary content.
func (d *DesignStore) Download(ctx context.Context, artifact domain.ArtifactDescriptor) ([]byte, error) {
	path, err := artifactPath(artifact)
	if err != nil {
		return nil, err
	}
	content, err := d.client.do(ctx, "designtime.download", request{method: "GET", path: path + "/$value"})
	if err != nil {
		return nil, err
	}
	d.client.sink.Logf("downloaded artifact %s (%d bytes) from design-time store", artifact.Name, len(content))
	return content, nil
}
