// Package admin lets the centre publish and withdraw note sets.
package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrPDFRequired     = errors.New("a PDF file is required")
	ErrInvalidFileType = errors.New("invalid file type")
)

const (
	NotesDir  = "assets/notes"
	CoversDir = "assets/covers"
)

// Blobs stores uploaded files.
type Blobs interface {
	Save(dir, name, defExt string, r io.Reader) (string, error)
	Remove(ref string) error
}

// File is an uploaded file part.
type File struct {
	Name string
	Body io.Reader
}

// BookNew holds the form fields of an upload. Price is kept as sent.
type BookNew struct {
	Title       string
	Description string
	Price       string
	Category    string
}

type Library struct {
	catalog *catalog.Store
	blobs   Blobs
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewLibrary(c *catalog.Store, b Blobs, log logrus.FieldLogger) *Library {
	return &Library{
		catalog: c,
		blobs:   b,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores pdf, and the optional cover, and lists a new book for them.
func (l *Library) Upload(ctx context.Context, nb BookNew, pdf *File, cover *File) (catalog.Book, error) {
	if pdf == nil || pdf.Body == nil {
		return catalog.Book{}, ErrPDFRequired
	}

	body, kind, err := sniff(pdf.Body)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("reading pdf: %w", err)
	}
	if kind != "application/pdf" {
		return catalog.Book{}, fmt.Errorf("file is %s: %w", kind, ErrInvalidFileType)
	}

	var coverBody io.Reader
	if cover != nil && cover.Body != nil {
		cb, ckind, err := sniff(cover.Body)
		if err != nil {
			return catalog.Book{}, fmt.Errorf("reading cover: %w", err)
		}
		if !strings.HasPrefix(ckind, "image/") {
			return catalog.Book{}, fmt.Errorf("cover is %s: %w", ckind, ErrInvalidFileType)
		}
		coverBody = cb
	}

	fileRef, err := l.blobs.Save(NotesDir, "", ".pdf", body)
	if err != nil {
		return catalog.Book{}, fmt.Errorf("saving pdf: %w", err)
	}

	var coverRef string
	if coverBody != nil {
		coverRef, err = l.blobs.Save(CoversDir, cover.Name, ".jpg", coverBody)
		if err != nil {
			l.discard(fileRef)
			return catalog.Book{}, fmt.Errorf("saving cover: %w", err)
		}
	}

	title := strings.TrimSpace(nb.Title)
	if title == "" {
		title = "Untitled"
	}

	now := l.now()
	b := catalog.Book{
		ID:          catalog.ID(catalog.UploadedPrefix + uuid.NewString()),
		Title:       title,
		Description: strings.TrimSpace(nb.Description),
		Price:       catalog.ParsePrice(strings.TrimSpace(nb.Price)),
		Category:    strings.TrimSpace(nb.Category),
		File:        fileRef,
		Cover:       coverRef,
		CreatedAt:   &now,
	}

	if err := l.catalog.Add(b); err != nil {
		l.discard(fileRef, coverRef)
		return catalog.Book{}, fmt.Errorf("adding book: %w", err)
	}

	l.log.WithFields(logrus.Fields{
		"book_id":  b.ID,
		"category": b.Category,
		"price":    b.Price,
	}).Info("book uploaded")

	return b, nil
}

// Delete unlists an uploaded book and removes its files. Files already gone
// are ignored.
func (l *Library) Delete(ctx context.Context, id catalog.ID) (catalog.Book, error) {
	b, err := l.catalog.Remove(id)
	if err != nil {
		return catalog.Book{}, err
	}

	l.discard(b.File, b.Cover)

	l.log.WithField("book_id", id).Info("book deleted")
	return b, nil
}

func (l *Library) discard(refs ...string) {
	for _, ref := range refs {
		if err := l.blobs.Remove(ref); err != nil {
			l.log.WithField("ref", ref).WithError(err).Warn("removing stored file")
		}
	}
}

// sniff detects the content type of r without consuming it.
func sniff(r io.Reader) (io.Reader, string, error) {
	br := bufio.NewReaderSize(r, 512)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	if len(head) == 0 {
		return nil, "", fmt.Errorf("empty file: %w", ErrInvalidFileType)
	}
	return br, http.DetectContentType(head), nil
}
