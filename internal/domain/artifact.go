package domain

import (
	"fmt"
	"strings"
)

// ArtifactType is a canonical design-time artifact kind.
type ArtifactType string

const (
	ArtifactIntegrationFlow  ArtifactType = "integration_flow"
	ArtifactValueMapping     ArtifactType = "value_mapping"
	ArtifactScriptCollection ArtifactType = "script_collection"
	ArtifactMessageMapping   ArtifactType = "message_mapping"
)

// ArtifactDescriptor names a design-time artifact selected for deployment.
// Type stays raw until an external request is built from it; unknown values
// are rejected there, never mapped to a default.
type ArtifactDescriptor struct {
	Name      string
	Type      string
	PackageID string
}

// ArtifactTypeError reports an artifact type string no external request can
// be built for.
type ArtifactTypeError struct {
	Value string
}

func (e *ArtifactTypeError) Error() string {
	return fmt.Sprintf("unsupported artifact type %q", e.Value)
}

// ParseArtifactType maps the artifact type spellings used by both definition
// dialects to the canonical kind.
func ParseArtifactType(value string) (ArtifactType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "integration_flow", "integrationflow", "iflow":
		return ArtifactIntegrationFlow, nil
	case "value_mapping", "valuemapping":
		return ArtifactValueMapping, nil
	case "script_collection", "scriptcollection":
		return ArtifactScriptCollection, nil
	case "message_mapping", "messagemapping":
		return ArtifactMessageMapping, nil
	default:
		return "", &ArtifactTypeError{Value: value}
	}
}
