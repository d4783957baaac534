package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mdocholder/internal/domain"
)

const documentsDir = "documents"

// DocumentFileStore keeps one JSON file per credential under
// <home>/documents. Reads run concurrently, writes are serialized.
type DocumentFileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewDocumentFileStore returns a store rooted at home.
func NewDocumentFileStore(home string) *DocumentFileStore {
	return &DocumentFileStore{dir: filepath.Join(home, documentsDir)}
}

// ListDocuments returns every stored credential, oldest first.
func (s *DocumentFileStore) ListDocuments(ctx context.Context) ([]domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := listJSON(s.dir)
	if err != nil {
		return nil, err
	}
	docs := make([]domain.Credential, 0, len(names))
	for _, name := range names {
		var doc domain.Credential
		found, err := readJSON(filepath.Join(s.dir, name+".json"), &doc)
		if err != nil {
			return nil, fmt.Errorf("read document %s: %w", name, err)
		}
		if found {
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

// GetDocument loads a single credential.
func (s *DocumentFileStore) GetDocument(ctx context.Context, id domain.DocumentID) (domain.Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Credential{}, false, err
	}
	path, err := recordPath(s.dir, id.String())
	if err != nil {
		return domain.Credential{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc domain.Credential
	found, err := readJSON(path, &doc)
	if err != nil || !found {
		return domain.Credential{}, false, err
	}
	return doc, true, nil
}

// SaveDocument creates or replaces a credential.
func (s *DocumentFileStore) SaveDocument(ctx context.Context, doc domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := recordPath(s.dir, doc.ID.String())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	return writeJSON(path, doc, 0o600)
}

// DeleteDocument removes a credential. Deleting a missing credential
// returns domain.ErrNotFound.
func (s *DocumentFileStore) DeleteDocument(ctx context.Context, id domain.DocumentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := recordPath(s.dir, id.String())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return err
}

var _ domain.DocumentStore = (*DocumentFileStore)(nil)
