// Package catalog lists the note sets on sale: a fixed set of titles
// shipped with the service plus the ones uploaded by admins.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID identifies a book. Clients send static ids as JSON numbers and
// uploaded ids as strings, both decode to the same form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("book id must be a string or a number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

type Book struct {
	ID          ID         `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Price       int64      `json:"price"`
	Category    string     `json:"category"`
	File        string     `json:"file"`
	Cover       string     `json:"cover,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// Uploaded reports whether the book was added through the admin panel.
func (b Book) Uploaded() bool { return b.CreatedAt != nil }

// UploadedPrefix starts the id of every admin uploaded book.
const UploadedPrefix = "c-"

var static = []Book{
	{ID: "1", Title: "Maths Notes", Description: "Class 10 Mathematics", Price: 200, Category: "40", File: "assets/notes/maths-class-10.pdf"},
	{ID: "2", Title: "Science Notes", Description: "Class 10 Science", Price: 250, Category: "40", File: "assets/notes/science-class-10.pdf"},
	{ID: "3", Title: "English Notes", Description: "Class 10 English", Price: 150, Category: "41", File: "assets/notes/english-class-10.pdf"},
}

// Static returns a copy of the built-in books.
func Static() []Book {
	out := make([]Book, len(static))
	copy(out, static)
	return out
}

// ParsePrice reads a form price, defaulting to 0 for anything unparseable.
func ParsePrice(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int64(f)
	}
	return 0
}
