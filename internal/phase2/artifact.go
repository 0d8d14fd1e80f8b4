package phase2

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/kquant-trader/internal/domain"
)

// ArtifactStore persists per-batch artifacts under a per-day directory,
// write-temp-then-rename so a reader never observes a partially written
// file. The same directory layout is read back by the Recovery Manager.
type ArtifactStore struct {
	root string // data root; artifacts live under root/phase2/<date>/batch-<id>.json
}

// NewArtifactStore builds a store rooted at root (typically
// config.PathsConfig.DataRoot).
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (s *ArtifactStore) path(date string, batchID int) string {
	return filepath.Join(s.root, "phase2", date, fmt.Sprintf("batch-%02d.json", batchID))
}

// Write atomically persists artifact, mirroring the token manager's
// write-temp-then-rename idiom.
func (s *ArtifactStore) Write(artifact domain.BatchArtifact) error {
	path := s.path(artifact.Date, artifact.BatchID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads the artifact for (date, batchID), if present.
func (s *ArtifactStore) Read(date string, batchID int) (domain.BatchArtifact, error) {
	data, err := os.ReadFile(s.path(date, batchID))
	if err != nil {
		return domain.BatchArtifact{}, err
	}
	var a domain.BatchArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.BatchArtifact{}, err
	}
	return a, nil
}

// Valid reports whether the artifact for (date, batchID) is present,
// non-empty, valid JSON and stamped with today's date — the sole
// completion signal the Recovery Manager trusts.
func (s *ArtifactStore) Valid(date string, batchID int, today time.Time) bool {
	info, err := os.Stat(s.path(date, batchID))
	if err != nil || info.Size() == 0 {
		return false
	}
	a, err := s.Read(date, batchID)
	if err != nil {
		return false
	}
	return a.Date == today.Format("2006-01-02")
}
