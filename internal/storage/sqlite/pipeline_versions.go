package sqlite

import (
	"context"

	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

func (s *Storage) GetPipelineVersion(ctx context.Context, id string) (*types.PipelineVersion, error) {
	var pv types.PipelineVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, prompt_manifest_hash, extractor_bundle_hash, config_hash, seed, config_snapshot_toml
		FROM pipeline_versions WHERE id = ?
	`, id).Scan(&pv.ID, &pv.PromptManifestHash, &pv.ExtractorBundleHash, &pv.ConfigHash, &pv.Seed, &pv.ConfigSnapshotTOML)
	if err != nil {
		return nil, storage.WrapDBError("get pipeline version", err)
	}
	return &pv, nil
}

// PutPipelineVersion inserts pv if absent; pipeline version IDs are a hash
// of the 4-tuple they identify, so an existing row with the same ID is
// always byte-identical and safe to return as-is.
func (s *Storage) PutPipelineVersion(ctx context.Context, pv *types.PipelineVersion) (*types.PipelineVersion, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_versions (id, prompt_manifest_hash, extractor_bundle_hash, config_hash, seed, config_snapshot_toml)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, pv.ID, pv.PromptManifestHash, pv.ExtractorBundleHash, pv.ConfigHash, pv.Seed, pv.ConfigSnapshotTOML)
	if err != nil {
		return nil, storage.WrapDBError("put pipeline version", err)
	}
	return s.GetPipelineVersion(ctx, pv.ID)
}
