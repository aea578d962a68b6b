package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/coachingcentre/notes-store/storage"
)

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o Order) error
	Fetch(ctx context.Context, id string) (Order, error)

	// FetchByMerchantID finds the order bound to a session of provider.
	FetchByMerchantID(ctx context.Context, provider, merchantOrderID string) (Order, error)

	// Update applies fn to the order and persists the result atomically
	// with respect to other updates of the same store.
	Update(ctx context.Context, id string, fn func(*Order) error) (Order, error)

	List(ctx context.Context) ([]Order, error)
}

// FileStore keeps every order in memory and rewrites the whole JSON array
// after each mutation. A mutex serializes mutations so that concurrent
// writers cannot lose each other's updates.
type FileStore struct {
	mu     sync.Mutex
	path   string
	orders map[string]Order
}

// OpenFileStore loads the orders persisted at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := FileStore{
		path:   path,
		orders: make(map[string]Order),
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &s, nil
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(b) == 0 {
		return &s, nil
	}

	var list []Order
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	for _, o := range list {
		if o.ID != "" {
			s.orders[o.ID] = o
		}
	}
	return &s, nil
}

func (s *FileStore) Create(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order[%s] already exists", o.ID)
	}

	s.orders[o.ID] = o
	if err := s.flush(); err != nil {
		delete(s.orders, o.ID)
		return err
	}
	return nil
}

func (s *FileStore) Fetch(ctx context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order[%s]: %w", id, ErrNotFound)
	}
	return clone(o), nil
}

func (s *FileStore) FetchByMerchantID(ctx context.Context, provider, merchantOrderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if provider != "" && merchantOrderID != "" {
		for _, o := range s.orders {
			if o.Provider == provider && o.MerchantOrderID == merchantOrderID {
				return clone(o), nil
			}
		}
	}
	return Order{}, fmt.Errorf("order bound to %s payment[%s]: %w", provider, merchantOrderID, ErrNotFound)
}

func (s *FileStore) Update(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order[%s]: %w", id, ErrNotFound)
	}

	next := clone(prev)
	if err := fn(&next); err != nil {
		return Order{}, err
	}

	s.orders[id] = next
	if err := s.flush(); err != nil {
		s.orders[id] = prev
		return Order{}, err
	}
	return clone(next), nil
}

func (s *FileStore) List(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sorted(), nil
}

func (s *FileStore) sorted() []Order {
	list := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		list = append(list, clone(o))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// flush must be called with the lock held.
func (s *FileStore) flush() error {
	b, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding orders: %w", err)
	}
	if err := storage.WriteFileAtomic(s.path, b); err != nil {
		return fmt.Errorf("saving orders: %w", err)
	}
	return nil
}

func clone(o Order) Order {
	o.Items = append([]Item(nil), o.Items...)
	if o.Payment != nil {
		p := *o.Payment
		o.Payment = &p
	}
	if o.Meta != nil {
		o.Meta = append(json.RawMessage(nil), o.Meta...)
	}
	return o
}
