package services

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"kbrag/models"

	"github.com/fsnotify/fsnotify"
)

// DropFolderWatcher binds a directory to one knowledge base: files created
// or modified in the folder are added to the knowledge base, removed files
// are deleted from it. It runs until the context is cancelled.
type DropFolderWatcher struct {
	manager      *KBManager
	kbName       string
	chunkOverlap int
}

func NewDropFolderWatcher(manager *KBManager, kbName string, chunkOverlap int) *DropFolderWatcher {
	return &DropFolderWatcher{manager: manager, kbName: kbName, chunkOverlap: chunkOverlap}
}

func isWatchableFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".pdf", ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// Watch starts a long-running process mirroring directory changes into the
// knowledge base.
func (w *DropFolderWatcher) Watch(ctx context.Context, dirPath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WATCHER ERROR: Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isWatchableFile(event.Name) {
					continue
				}

				log.Printf("WATCHER EVENT: %s", event)

				// Many editors perform a "write" by creating a temp file and
				// renaming, which can trigger multiple events. Create and
				// Write are handled the same.
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					w.addFile(ctx, event.Name)
				} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					w.removeFile(ctx, event.Name)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WATCHER ERROR: %v", err)
			case <-ctx.Done():
				log.Println("WATCHER: Context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	log.Printf("WATCHER: Watching directory %s for knowledge base %q", dirPath, w.kbName)
	if err := watcher.Add(dirPath); err != nil {
		log.Printf("WATCHER ERROR: Failed to add path to watcher: %v", err)
	}

	<-ctx.Done()
}

func (w *DropFolderWatcher) addFile(ctx context.Context, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Printf("WATCHER WARN: Could not read file %s: %v", path, err)
		return
	}
	upload := []models.UploadFile{{Name: filepath.Base(path), Content: content}}
	if _, err := w.manager.AddFiles(ctx, w.kbName, upload, w.chunkOverlap); err != nil {
		log.Printf("WATCHER ERROR: Failed to add %s to %q: %v", path, w.kbName, err)
	}
}

func (w *DropFolderWatcher) removeFile(ctx context.Context, path string) {
	_, err := w.manager.RemoveFiles(ctx, w.kbName, []string{filepath.Base(path)})
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("WATCHER ERROR: Failed to remove %s from %q: %v", path, w.kbName, err)
	}
}
