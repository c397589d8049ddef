// Package parser normalizes the two pipeline definition dialects into the
// canonical in-memory graph: a structured textual form and a visual canvas
// form with a flat per-stage selections side channel.
package parser

import (
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// ParseError reports definition content that matched neither dialect.
// Recoverable shape mismatches inside a dialect never raise it; only content
// that cannot be normalized at all does.
type ParseError struct {
	TextualErr error
	CanvasErr  error
}

func (e *ParseError) Error() string {
	parts := make([]string, 0, 2)
	if e.TextualErr != nil {
		parts = append(parts, "textual: "+e.TextualErr.Error())
	}
	if e.CanvasErr != nil {
		parts = append(parts, "canvas: "+e.CanvasErr.Error())
	}
	if len(parts) == 0 {
		return "definition matches neither dialect: no content"
	}
	return "definition matches neither dialect: " + strings.Join(parts, "; ")
}

// Parse normalizes a definition document into the canonical pipeline.
// The textual dialect is preferred; when it parses but yields zero
// executable nodes and a canvas form is also available, the parser falls
// back to canvas-derived parsing. This fallback is required behavior.
func Parse(doc domain.DefinitionDocument) (domain.PipelineDefinition, error) {
	var textualErr, canvasErr error

	if len(doc.Textual) > 0 {
		def, err := parseTextual(doc)
		if err == nil {
			if executableNodes(def) > 0 || len(doc.Canvas) == 0 {
				return validated(def)
			}
			textualErr = fmt.Errorf("textual definition has no executable nodes")
		} else {
			textualErr = err
		}
	}

	if len(doc.Canvas) > 0 {
		def, err := parseCanvas(doc)
		if err == nil {
			return validated(def)
		}
		canvasErr = err
	}

	return domain.PipelineDefinition{}, &ParseError{TextualErr: textualErr, CanvasErr: canvasErr}
}

func validated(def domain.PipelineDefinition) (domain.PipelineDefinition, error) {
	if err := def.Validate(); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("invalid pipeline definition: %w", err)
	}
	return def, nil
}

func executableNodes(def domain.PipelineDefinition) int {
	count := 0
	for _, node := range def.Nodes {
		if len(node.Stages) > 0 {
			count++
		}
	}
	return count
}

// selectionKey builds the flat side-channel key for a stage.
func selectionKey(nodeID, stageID string) string {
	return nodeID + "__" + stageID
}
