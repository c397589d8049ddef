package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
	"github.com/flowdeck-labs/flowdeck-go/internal/repo"
)

type BuildStore struct {
	db DB
}

func NewBuildStore(db DB) *BuildStore {
	if db == nil {
		return nil
	}
	return &BuildStore{db: db}
}

func (s *BuildStore) Get(ctx context.Context, buildRef string) (repo.BuildRecord, error) {
	if s == nil || s.db == nil {
		return repo.BuildRecord{}, fmt.Errorf("build store not initialized")
	}
	buildRef = strings.TrimSpace(buildRef)
	if buildRef == "" {
		return repo.BuildRecord{}, fmt.Errorf("build ref is required")
	}
	var record repo.BuildRecord
	var artifactsJSON []byte
	var stageStateJSON []byte
	row := s.db.QueryRowContext(
		ctx,
		`SELECT build_ref, selected_artifacts, stage_state
		 FROM builds
		 WHERE build_ref = $1`,
		buildRef,
	)
	if err := row.Scan(&record.Ref, &artifactsJSON, &stageStateJSON); err != nil {
		return repo.BuildRecord{}, handleNotFound(err)
	}
	if len(artifactsJSON) > 0 {
		if err := json.Unmarshal(artifactsJSON, &record.SelectedArtifacts); err != nil {
			return repo.BuildRecord{}, fmt.Errorf("decode selected artifacts: %w", err)
		}
	}
	stageState, err := decodeStageState(stageStateJSON)
	if err != nil {
		return repo.BuildRecord{}, fmt.Errorf("decode stage state: %w", err)
	}
	record.StageState = stageState
	return record, nil
}

func decodeStageState(raw []byte) (map[string]domain.Metadata, error) {
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
	state := make(map[string]domain.Metadata, len(out))
	for key, fields := range out {
		state[key] = domain.Metadata(fields)
	}
	return state, nil
}
