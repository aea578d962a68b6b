// Package download serves purchased note files once a purchase has been
// verified.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/storage"
)

var (
	ErrPaymentRequired = errors.New("payment required")
	ErrItemNotInOrder  = errors.New("item not in order")
	ErrFileNotFound    = errors.New("file not found")
	ErrFileMissing     = errors.New("file missing from storage")
)

// Purchase is what a download is checked against.
type Purchase interface {
	Paid() bool
	Includes(itemID catalog.ID) bool
}

// Catalog resolves item ids to books.
type Catalog interface {
	Find(id catalog.ID) (catalog.Book, bool)
}

// Blobs opens stored files by reference.
type Blobs interface {
	Open(ref string) (*os.File, error)
}

type Gate struct {
	catalog Catalog
	blobs   Blobs
}

func NewGate(c Catalog, b Blobs) *Gate {
	return &Gate{catalog: c, blobs: b}
}

// Authorize checks that p is paid and contains itemID, then resolves the
// book behind the item.
func (g *Gate) Authorize(p Purchase, itemID catalog.ID) (catalog.Book, error) {
	if !p.Paid() {
		return catalog.Book{}, ErrPaymentRequired
	}
	if !p.Includes(itemID) {
		return catalog.Book{}, fmt.Errorf("item[%s]: %w", itemID, ErrItemNotInOrder)
	}
	return g.Resolve(itemID)
}

// Resolve finds the book of itemID, requiring it to reference a file.
func (g *Gate) Resolve(itemID catalog.ID) (catalog.Book, error) {
	b, ok := g.catalog.Find(itemID)
	if !ok || b.File == "" {
		return catalog.Book{}, fmt.Errorf("item[%s]: %w", itemID, ErrFileNotFound)
	}
	return b, nil
}

// Serve streams the file of b as a PDF attachment.
func (g *Gate) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, b catalog.Book) error {
	f, err := g.blobs.Open(b.File)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidRef) {
			return fmt.Errorf("item[%s] file %s: %w", b.ID, b.File, ErrFileMissing)
		}
		return fmt.Errorf("opening file of item[%s]: %w", b.ID, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file of item[%s]: %w", b.ID, err)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, Filename(b.Title)))
	w.Header().Set("Cache-Control", "no-cache")

	http.ServeContent(w, r, "", st.ModTime(), f)
	return nil
}

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_\s.-]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Filename turns a title into a header safe file name: only letters,
// digits, space, '-', '_' and '.' survive, whitespace runs become '_' and
// the result is capped at 100 characters.
func Filename(title string) string {
	s := unsafeChars.ReplaceAllString(title, "")
	s = spaces.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")

	if r := []rune(s); len(r) > 100 {
		s = string(r[:100])
	}
	if s == "" {
		return "download"
	}
	return s
}
