package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/coachingcentre/notes-store/storage"
)

// ErrNotFound is returned when no uploaded book carries the requested id.
var ErrNotFound = errors.New("book not found")

// Store merges the static books with the uploaded ones persisted as a JSON
// array. Mutations hold the lock across the whole read-modify-write.
type Store struct {
	mu       sync.RWMutex
	path     string
	static   []Book
	uploaded []Book
}

// Open loads the uploaded books from path. A missing file is an empty list.
func Open(path string, static []Book) (*Store, error) {
	s := Store{
		path:   path,
		static: static,
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &s, nil
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(b) > 0 {
		if err := json.Unmarshal(b, &s.uploaded); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	return &s, nil
}

// List returns every book, static first, optionally restricted to category.
func (s *Store) List(category string) []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Book, 0, len(s.static)+len(s.uploaded))
	for _, group := range [][]Book{s.static, s.uploaded} {
		for _, b := range group {
			if category == "" || b.Category == category {
				out = append(out, b)
			}
		}
	}
	return out
}

// Uploaded returns the admin uploaded books in upload order.
func (s *Store) Uploaded() []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Book, len(s.uploaded))
	copy(out, s.uploaded)
	return out
}

// Categories returns the distinct non-empty categories of uploaded books.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	out := []string{}
	for _, b := range s.uploaded {
		if b.Category == "" || seen[b.Category] {
			continue
		}
		seen[b.Category] = true
		out = append(out, b.Category)
	}
	return out
}

// Find looks a book up among static and uploaded books.
func (s *Store) Find(id ID) (Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, group := range [][]Book{s.static, s.uploaded} {
		for _, b := range group {
			if b.ID == id {
				return b, true
			}
		}
	}
	return Book{}, false
}

// Add appends an uploaded book and persists the list.
func (s *Store) Add(b Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(append([]Book(nil), s.uploaded...), b)
	if err := s.write(next); err != nil {
		return err
	}
	s.uploaded = next
	return nil
}

// Remove deletes an uploaded book, returning the removed record.
func (s *Store) Remove(id ID) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, b := range s.uploaded {
		if b.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Book{}, fmt.Errorf("book[%s]: %w", id, ErrNotFound)
	}

	removed := s.uploaded[idx]
	next := make([]Book, 0, len(s.uploaded)-1)
	next = append(next, s.uploaded[:idx]...)
	next = append(next, s.uploaded[idx+1:]...)

	if err := s.write(next); err != nil {
		return Book{}, err
	}
	s.uploaded = next
	return removed, nil
}

func (s *Store) write(list []Book) error {
	if list == nil {
		list = []Book{}
	}
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding books: %w", err)
	}
	return storage.WriteFileAtomic(s.path, b)
}
