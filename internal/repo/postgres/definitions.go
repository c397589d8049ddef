package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

type DefinitionStore struct {
	db DB
}

func NewDefinitionStore(db DB) *DefinitionStore {
	if db == nil {
		return nil
	}
	return &DefinitionStore{db: db}
}

// Get loads the raw definition document for a pipeline: the textual source,
// the canvas graph if one was saved, and any per-stage selection overrides.
// Both payloads are returned as-is; the parser decides which one to trust.
func (s *DefinitionStore) Get(ctx context.Context, pipelineRef string) (domain.DefinitionDocument, error) {
	if s == nil || s.db == nil {
		return domain.DefinitionDocument{}, fmt.Errorf("definition store not initialized")
	}
	pipelineRef = strings.TrimSpace(pipelineRef)
	if pipelineRef == "" {
		return domain.DefinitionDocument{}, fmt.Errorf("pipeline ref is required")
	}
	var doc domain.DefinitionDocument
	var textual []byte
	var canvas []byte
	var selectionsJSON []byte
	row := s.db.QueryRowContext(
		ctx,
		`SELECT pipeline_ref, textual, canvas, selections
		 FROM pipeline_definitions
		 WHERE pipeline_ref = $1`,
		pipelineRef,
	)
	if err := row.Scan(&doc.PipelineRef, &textual, &canvas, &selectionsJSON); err != nil {
		return domain.DefinitionDocument{}, handleNotFound(err)
	}
	doc.Textual = textual
	doc.Canvas = canvas
	selections, err := decodeSelections(selectionsJSON)
	if err != nil {
		return domain.DefinitionDocument{}, fmt.Errorf("decode selections: %w", err)
	}
	doc.Selections = selections
	return doc, nil
}

func decodeSelections(raw []byte) (map[string]domain.Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	selections := make(map[string]domain.Metadata, len(out))
	for key, fields := range out {
		selections[key] = domain.Metadata(fields)
	}
	return selections, nil
}
