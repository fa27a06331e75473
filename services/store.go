package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kbrag/models"

	"github.com/google/uuid"
)

const (
	documentsFileName = "documents.json"
	infoFileName      = "info.json"
	sourceDirName     = "source_files"
)

// KBStore owns the on-disk layout of knowledge bases: one directory per name
// holding index.json, documents.json, info.json and source_files/. Artifact
// writes go through a temp file and rename so a crash never leaves a
// half-written file.
type KBStore struct {
	dataDir string
}

func NewKBStore(dataDir string) (*KBStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory %s: %w", dataDir, err)
	}
	return &KBStore{dataDir: dataDir}, nil
}

// ValidateName rejects names that are not usable as a single path segment.
func (s *KBStore) ValidateName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: knowledge base name %q must be a plain path segment", ErrInvalidParameter, name)
	}
	return nil
}

func (s *KBStore) Dir(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *KBStore) SourceDir(name string) string {
	return filepath.Join(s.dataDir, name, sourceDirName)
}

// Exists reports whether a storage directory for name is present.
func (s *KBStore) Exists(name string) bool {
	info, err := os.Stat(s.Dir(name))
	return err == nil && info.IsDir()
}

// List returns the names of all knowledge bases, sorted by the filesystem's
// directory order.
func (s *KBStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("could not list data directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// CreateDirs makes the knowledge base and source_files directories.
func (s *KBStore) CreateDirs(name string) error {
	return os.MkdirAll(s.SourceDir(name), 0755)
}

// SaveDocuments persists the full post-split chunk list as documents.json.
func (s *KBStore) SaveDocuments(name string, docs []models.Chunk) error {
	if docs == nil {
		docs = []models.Chunk{}
	}
	payload, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.Dir(name), documentsFileName), payload)
}

// LoadDocuments reads documents.json back into the chunk list.
func (s *KBStore) LoadDocuments(name string) ([]models.Chunk, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir(name), documentsFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: document store for %q", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read document store for %q: %w", name, err)
	}
	var docs []models.Chunk
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("%w: unreadable document store for %q: %v", ErrStorageCorrupt, name, err)
	}
	return docs, nil
}

// SaveInfo persists the metadata record as info.json.
func (s *KBStore) SaveInfo(name string, info *models.KBInfo) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal info: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.Dir(name), infoFileName), payload)
}

// LoadInfo reads info.json back into the metadata record.
func (s *KBStore) LoadInfo(name string) (*models.KBInfo, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir(name), infoFileName))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: metadata record for %q", ErrNotFound, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read metadata record for %q: %w", name, err)
	}
	var info models.KBInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: unreadable metadata record for %q: %v", ErrStorageCorrupt, name, err)
	}
	return &info, nil
}

// sourcePath resolves filename inside the knowledge base's source directory,
// rejecting anything that would escape it.
func (s *KBStore) sourcePath(name, filename string) (string, error) {
	dir := s.SourceDir(name)
	cleanPath := filepath.Join(dir, filepath.Base(filename))
	if !strings.HasPrefix(cleanPath, dir) {
		return "", fmt.Errorf("%w: filename %q attempts to escape the source directory", ErrInvalidParameter, filename)
	}
	return cleanPath, nil
}

// WriteSourceFile stores the raw uploaded bytes under source_files/,
// overwriting any previous upload with the same name.
func (s *KBStore) WriteSourceFile(name, filename string, content []byte) error {
	path, err := s.sourcePath(name, filename)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to store source file %s: %w", filename, err)
	}
	return nil
}

// RemoveSourceFile deletes a stored upload. A missing file is not an error.
func (s *KBStore) RemoveSourceFile(name, filename string) error {
	path, err := s.sourcePath(name, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove source file %s: %w", filename, err)
	}
	return nil
}

// Destroy removes the entire knowledge-base directory.
func (s *KBStore) Destroy(name string) error {
	return os.RemoveAll(s.Dir(name))
}

// writeFileAtomic writes payload to a temp file in the target's directory
// and renames it into place.
func writeFileAtomic(path string, payload []byte) error {
	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.New().String())
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}
