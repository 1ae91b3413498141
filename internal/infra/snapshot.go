package infra

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const snapshotManifest = "snapshots.json"

// Snapshot is one saved copy of the source database.
type Snapshot struct {
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotManager keeps copies of the source database taken before a
// task list is applied, so a bad server answer can be rolled back.
type SnapshotManager struct {
	dir    string
	keep   int
	logger *zap.Logger
	now    func() time.Time
}

// NewSnapshotManager stores up to keep snapshots in dir.
func NewSnapshotManager(dir string, keep int, logger *zap.Logger) *SnapshotManager {
	if keep < 1 {
		keep = 1
	}
	return &SnapshotManager{dir: dir, keep: keep, logger: logger, now: time.Now}
}

// Take copies dbPath into the snapshot directory and prunes old copies.
func (m *SnapshotManager) Take(dbPath string) (*Snapshot, error) {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	at := m.now()
	dst := filepath.Join(m.dir, fmt.Sprintf("%s.%d.bak", filepath.Base(dbPath), at.UnixNano()))
	if err := copyFile(dbPath, dst); err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", dbPath, err)
	}
	sum, err := computeSHA256(dst)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{Path: dst, SHA256: sum, CreatedAt: at}
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	list = append(list, snap)
	for len(list) > m.keep {
		if err := os.Remove(list[0].Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to prune snapshot", zap.String("path", list[0].Path), zap.Error(err))
		}
		list = list[1:]
	}
	if err := m.save(list); err != nil {
		return nil, err
	}

	m.logger.Info("source database snapshot taken", zap.String("path", dst))
	return &snap, nil
}

// List returns the snapshots, oldest first.
func (m *SnapshotManager) List() ([]Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, snapshotManifest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}
	var list []Snapshot
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot manifest: %w", err)
	}
	return list, nil
}

// RestoreLatest verifies the newest snapshot and copies it over dbPath.
// The store must be closed while restoring.
func (m *SnapshotManager) RestoreLatest(dbPath string) (*Snapshot, error) {
	list, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("no snapshot available")
	}
	snap := list[len(list)-1]

	sum, err := computeSHA256(snap.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if sum != snap.SHA256 {
		return nil, fmt.Errorf("snapshot %s is corrupted: checksum mismatch", snap.Path)
	}
	if err := copyFile(snap.Path, dbPath); err != nil {
		return nil, fmt.Errorf("failed to restore snapshot: %w", err)
	}

	m.logger.Info("source database restored", zap.String("from", snap.Path))
	return &snap, nil
}

func (m *SnapshotManager) save(list []Snapshot) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, snapshotManifest), data, 0600)
}

func computeSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile writes dst through a synced temp file and a rename, so a
// crash never leaves a half-written database.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".regsync-copy-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	ok = true
	return nil
}
