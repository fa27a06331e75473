package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"kbrag/models"
)

// LoadedKB is a consistent snapshot of one knowledge base: its metadata
// record and full chunk list, verified against the index count at load time.
type LoadedKB struct {
	Name string
	Info *models.KBInfo
	Docs []models.Chunk
}

// MutationResult reports a create/add/remove outcome: the resulting chunk
// count and the files that failed normalization and were skipped.
type MutationResult struct {
	ChunkCount int
	Failed     []models.FileFailure
}

// KBManager orchestrates the index store, document store and metadata record
// of each knowledge base as one unit. Every mutating operation rebuilds the
// whole index from the current chunk population: the index has no
// incremental delete, so add and remove both re-embed the full surviving
// set.
//
// Mutations on the same name serialize through a per-name write lock; loads
// for retrieval take the read lock and see a consistent snapshot.
type KBManager struct {
	store       *KBStore
	index       VectorIndex
	embedder    Embedder
	normalizers *NormalizerRegistry

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewKBManager(store *KBStore, index VectorIndex, embedder Embedder, normalizers *NormalizerRegistry) *KBManager {
	return &KBManager{
		store:       store,
		index:       index,
		embedder:    embedder,
		normalizers: normalizers,
		locks:       make(map[string]*sync.RWMutex),
	}
}

func (m *KBManager) lockFor(name string) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[name] = l
	}
	return l
}

func validateChunkParams(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidParameter, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("%w: chunk_overlap must satisfy 0 <= overlap < chunk_size, got %d", ErrInvalidParameter, chunkOverlap)
	}
	return nil
}

// normalizeFiles runs the registry over each upload. A file that fails does
// not abort the batch; it is reported and the rest continue.
func (m *KBManager) normalizeFiles(ctx context.Context, files []models.UploadFile, imgModel string) (map[string][]models.Chunk, []models.FileFailure) {
	units := make(map[string][]models.Chunk)
	var failed []models.FileFailure
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			failed = append(failed, models.FileFailure{File: f.Name, Error: err.Error()})
			continue
		}
		u, err := m.normalizers.Normalize(ctx, f.Name, f.Content, imgModel)
		if err != nil {
			log.Printf("MANAGER: skipping %s: %v", f.Name, err)
			failed = append(failed, models.FileFailure{File: f.Name, Error: err.Error()})
			continue
		}
		units[f.Name] = u
	}
	return units, failed
}

// rebuild re-ids the chunk population positionally, re-embeds every chunk,
// and commits the three stores in index, documents, info order. Loaders
// verify the count invariant, so a crash between commits surfaces as
// ErrStorageCorrupt rather than silent inconsistency.
func (m *KBManager) rebuild(ctx context.Context, name string, chunks []models.Chunk, info *models.KBInfo) (int, error) {
	for i := range chunks {
		chunks[i].Metadata.ChunkID = i
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding failed for %q: %w", name, err)
	}

	if err := m.index.Rebuild(ctx, name, chunks, vectors); err != nil {
		return 0, fmt.Errorf("index rebuild failed for %q: %w", name, err)
	}
	if err := m.store.SaveDocuments(name, chunks); err != nil {
		return 0, err
	}
	info.ChunkNums = len(chunks)
	info.LastEdit = time.Now().UTC()
	if err := m.store.SaveInfo(name, info); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Create builds a new knowledge base from the uploaded files. It fails with
// ErrAlreadyExists before touching anything if the name is taken, and cleans
// up the partially built directory if the build aborts.
func (m *KBManager) Create(ctx context.Context, name string, files []models.UploadFile, imgModel string, chunkSize, chunkOverlap int) (*MutationResult, error) {
	if err := m.store.ValidateName(name); err != nil {
		return nil, err
	}
	if err := validateChunkParams(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files to ingest", ErrInvalidParameter)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	if err := m.store.CreateDirs(name); err != nil {
		return nil, fmt.Errorf("could not create knowledge base %q: %w", name, err)
	}

	count, result, err := m.ingest(ctx, name, files, &models.KBInfo{
		Files:     []string{},
		ImgModel:  imgModel,
		ChunkSize: chunkSize,
	}, nil, chunkOverlap)
	if err != nil {
		// Abort leaves no trace of the new knowledge base. The index is
		// dropped explicitly: a remote backend keeps its collection outside
		// the storage directory.
		if dropErr := m.index.Drop(ctx, name); dropErr != nil {
			log.Printf("MANAGER: cleanup of aborted create %q: index drop failed: %v", name, dropErr)
		}
		if rmErr := m.store.Destroy(name); rmErr != nil {
			log.Printf("MANAGER: cleanup of aborted create %q failed: %v", name, rmErr)
		}
		return nil, err
	}
	log.Printf("MANAGER: created knowledge base %q with %d chunks", name, count)
	return result, nil
}

// AddFiles merges new files into an existing knowledge base and rebuilds it.
// chunk_size and img_model come from the stored metadata record; the overlap
// is caller-supplied and applies to the newly split files. A filename
// already present is overwritten and its previous chunks regenerated.
func (m *KBManager) AddFiles(ctx context.Context, name string, files []models.UploadFile, chunkOverlap int) (*MutationResult, error) {
	if err := m.store.ValidateName(name); err != nil {
		return nil, err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	info, err := m.store.LoadInfo(name)
	if err != nil {
		return nil, err
	}
	if err := validateChunkParams(info.ChunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	existing, err := m.store.LoadDocuments(name)
	if err != nil {
		return nil, err
	}

	count, result, err := m.ingest(ctx, name, files, info, existing, chunkOverlap)
	if err != nil {
		return nil, err
	}
	log.Printf("MANAGER: added files to %q, now %d chunks", name, count)
	return result, nil
}

// ingest normalizes and splits the uploads, merges them with the existing
// chunk population and rebuilds the three stores. Shared by Create (empty
// existing set) and AddFiles.
func (m *KBManager) ingest(ctx context.Context, name string, files []models.UploadFile, info *models.KBInfo, existing []models.Chunk, chunkOverlap int) (int, *MutationResult, error) {
	unitsByFile, failed := m.normalizeFiles(ctx, files, info.ImgModel)
	if len(unitsByFile) == 0 && len(existing) == 0 {
		return 0, nil, fmt.Errorf("%w: no file could be normalized", ErrExtractionFailed)
	}

	merged := existing
	for _, f := range files {
		units, ok := unitsByFile[f.Name]
		if !ok {
			continue
		}
		if info.HasFile(f.Name) {
			// Overwrite-and-regenerate: drop the stale chunks first.
			kept := merged[:0]
			for _, c := range merged {
				if c.Metadata.Source != f.Name {
					kept = append(kept, c)
				}
			}
			merged = kept
		} else {
			info.Files = append(info.Files, f.Name)
		}
		split, err := SplitDocuments(units, info.ChunkSize, chunkOverlap)
		if err != nil {
			return 0, nil, err
		}
		merged = append(merged, split...)
		if err := m.store.WriteSourceFile(name, f.Name, f.Content); err != nil {
			return 0, nil, err
		}
	}

	count, err := m.rebuild(ctx, name, merged, info)
	if err != nil {
		return 0, nil, err
	}
	return count, &MutationResult{ChunkCount: count, Failed: failed}, nil
}

// RemoveFiles deletes the named source files and every chunk they produced,
// then rebuilds the index from the surviving population. Missing filenames
// are ignored. Surviving chunk texts are untouched; removal never re-splits.
func (m *KBManager) RemoveFiles(ctx context.Context, name string, filenames []string) (*MutationResult, error) {
	if err := m.store.ValidateName(name); err != nil {
		return nil, err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	info, err := m.store.LoadInfo(name)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.LoadDocuments(name)
	if err != nil {
		return nil, err
	}

	drop := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		drop[f] = true
		if err := m.store.RemoveSourceFile(name, f); err != nil {
			return nil, err
		}
	}

	var surviving []models.Chunk
	for _, c := range docs {
		if !drop[c.Metadata.Source] {
			surviving = append(surviving, c)
		}
	}
	var remainingFiles []string
	for _, f := range info.Files {
		if !drop[f] {
			remainingFiles = append(remainingFiles, f)
		}
	}
	info.Files = remainingFiles
	if info.Files == nil {
		info.Files = []string{}
	}

	count, err := m.rebuild(ctx, name, surviving, info)
	if err != nil {
		return nil, err
	}
	log.Printf("MANAGER: removed %d files from %q, %d chunks remain", len(filenames), name, count)
	return &MutationResult{ChunkCount: count}, nil
}

// Destroy removes the whole knowledge base. Absence counts as success, and
// internal errors fold into a false return so callers can surface a soft
// failure without crashing.
func (m *KBManager) Destroy(ctx context.Context, name string) bool {
	if err := m.store.ValidateName(name); err != nil {
		return false
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !m.store.Exists(name) {
		return true
	}
	if err := m.index.Drop(ctx, name); err != nil {
		log.Printf("MANAGER: dropping index for %q: %v", name, err)
	}
	if err := m.store.Destroy(name); err != nil {
		log.Printf("MANAGER: failed to destroy %q: %v", name, err)
		return false
	}
	log.Printf("MANAGER: destroyed knowledge base %q", name)
	return true
}

// loadLocked reads and verifies one knowledge base. The caller must hold the
// per-name lock (read or write).
func (m *KBManager) loadLocked(ctx context.Context, name string) (*LoadedKB, error) {
	if !m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	info, err := m.store.LoadInfo(name)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.LoadDocuments(name)
	if err != nil {
		return nil, err
	}
	indexed, err := m.index.Count(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(docs) != info.ChunkNums || len(docs) != indexed {
		return nil, fmt.Errorf("%w: %q has %d documents, %d vectors, metadata says %d",
			ErrStorageCorrupt, name, len(docs), indexed, info.ChunkNums)
	}
	return &LoadedKB{Name: name, Info: info, Docs: docs}, nil
}

// Load returns a point-in-time view of a knowledge base, verifying that the
// document store, index and metadata record agree on the chunk count. The
// view is only guaranteed consistent at the moment of the call; code that
// goes on to search the index against it must use Snapshot instead, so a
// rebuild cannot reassign chunk ids under the search.
func (m *KBManager) Load(ctx context.Context, name string) (*LoadedKB, error) {
	if err := m.store.ValidateName(name); err != nil {
		return nil, err
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	return m.loadLocked(ctx, name)
}

// Snapshot runs fn against a verified view of the knowledge base while
// holding the per-name read lock, so no mutation can rebuild the index (and
// reassign chunk ids) for the duration of fn. Concurrent snapshots proceed
// in parallel; mutations wait.
func (m *KBManager) Snapshot(ctx context.Context, name string, fn func(kb *LoadedKB) error) error {
	if err := m.store.ValidateName(name); err != nil {
		return err
	}

	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	kb, err := m.loadLocked(ctx, name)
	if err != nil {
		return err
	}
	return fn(kb)
}

// List enumerates the existing knowledge bases.
func (m *KBManager) List() ([]string, error) {
	return m.store.List()
}

// GetInfo returns the metadata record of one knowledge base.
func (m *KBManager) GetInfo(name string) (*models.KBInfo, error) {
	if err := m.store.ValidateName(name); err != nil {
		return nil, err
	}
	lock := m.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	if !m.store.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return m.store.LoadInfo(name)
}
