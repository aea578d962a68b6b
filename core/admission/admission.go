// Package admission collects enquiry forms from prospective students.
// Submissions live in memory only and are lost on restart.
package admission

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DocsDir = "uploads"

// Blobs stores attached documents.
type Blobs interface {
	Save(dir, name, defExt string, r io.Reader) (string, error)
}

type Form struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Course    string    `json:"course"`
	Message   string    `json:"message"`
	Doc       string    `json:"doc,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewForm is a submission as received.
type NewForm struct {
	Name    string
	Phone   string
	Email   string
	Course  string
	Message string
}

// Doc is an attached document.
type Doc struct {
	Name string
	Body io.Reader
}

type Registry struct {
	mu    sync.RWMutex
	forms []Form
	blobs Blobs
	log   logrus.FieldLogger
}

func NewRegistry(b Blobs, log logrus.FieldLogger) *Registry {
	return &Registry{blobs: b, log: log}
}

// Submit records nf, storing doc first when one is attached.
func (r *Registry) Submit(ctx context.Context, nf NewForm, doc *Doc) (Form, error) {
	var ref string
	if doc != nil && doc.Body != nil {
		var err error
		ref, err = r.blobs.Save(DocsDir, doc.Name, "", doc.Body)
		if err != nil {
			return Form{}, fmt.Errorf("saving document: %w", err)
		}
		ref = "/" + ref
	}

	r.mu.Lock()
	f := Form{
		ID:        len(r.forms) + 1,
		Name:      strings.TrimSpace(nf.Name),
		Phone:     strings.TrimSpace(nf.Phone),
		Email:     strings.TrimSpace(nf.Email),
		Course:    strings.TrimSpace(nf.Course),
		Message:   nf.Message,
		Doc:       ref,
		CreatedAt: time.Now().UTC(),
	}
	r.forms = append(r.forms, f)
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"admission_id": f.ID,
		"course":       f.Course,
	}).Info("admission form received")

	return f, nil
}

// List returns every submission in arrival order.
func (r *Registry) List() []Form {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Form, len(r.forms))
	copy(out, r.forms)
	return out
}
