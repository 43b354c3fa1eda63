package pipeline

import (
	"bytes"
	"context"

	"github.com/BurntSushi/toml"

	"github.com/corpuspipe/corpuspipe/internal/config"
	"github.com/corpuspipe/corpuspipe/internal/extractor"
	"github.com/corpuspipe/corpuspipe/internal/idgen"
	"github.com/corpuspipe/corpuspipe/internal/llmaugment"
	"github.com/corpuspipe/corpuspipe/internal/storage"
	"github.com/corpuspipe/corpuspipe/internal/types"
)

// ResolveActivePipelineVersion derives the PipelineVersion identity for the
// currently running process from its config snapshot, the locked
// deterministic-extractor version, and the locked augmentation prompt hash,
// then inserts it (if absent) so every report started under this process
// image shares one PipelineVersion row. Two processes with identical
// config, extractor, and prompt hashes converge on the same ID — replay
// across a restart is detected, not merely assumed.
func ResolveActivePipelineVersion(ctx context.Context, store storage.Storage) (*types.PipelineVersion, error) {
	snapshot := config.Snapshot()
	configHash, err := idgen.HashJSON(snapshot)
	if err != nil {
		return nil, internalErr("", err)
	}
	snapshotTOML, err := renderConfigSnapshotTOML(snapshot)
	if err != nil {
		return nil, internalErr("", err)
	}
	pv := &types.PipelineVersion{
		ID:                  idgen.WithPrefix("pv", idgen.HashString(configHash+extractor.ExtractorVersion+llmaugment.PromptHash)[:16]),
		PromptManifestHash:  llmaugment.PromptHash,
		ExtractorBundleHash: extractor.ExtractorVersion,
		ConfigHash:          configHash,
		ConfigSnapshotTOML:  snapshotTOML,
	}
	stored, err := store.PutPipelineVersion(ctx, pv)
	if err != nil {
		return nil, externalErr("", err)
	}
	return stored, nil
}

// renderConfigSnapshotTOML encodes snapshot as TOML alongside the JSON form
// idgen.HashJSON hashes: the hash stays over canonical JSON (stable key
// ordering, no ambiguity), while the TOML rendering is what gets persisted
// on the PipelineVersion row for an operator to read back.
func renderConfigSnapshotTOML(snapshot map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(snapshot); err != nil {
		return "", err
	}
	return buf.String(), nil
}
