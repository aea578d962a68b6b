package admission

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
)

// HandleSubmit accepts a multipart form with an optional "doc" file.
func HandleSubmit(reg *Registry, maxSize int64) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to parse form: %w", err), "INVALID_FORM")
		}
		defer r.MultipartForm.RemoveAll()

		nf := NewForm{
			Name:    r.FormValue("name"),
			Phone:   r.FormValue("phone"),
			Email:   r.FormValue("email"),
			Course:  r.FormValue("course"),
			Message: r.FormValue("message"),
		}

		var doc *Doc
		f, fh, err := r.FormFile("doc")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return weberr.BadRequest(fmt.Errorf("reading doc: %w", err), "INVALID_FORM")
		default:
			defer f.Close()
			doc = &Doc{Name: fh.Filename, Body: f}
		}

		form, err := reg.Submit(ctx, nf, doc)
		if err != nil {
			return weberr.InternalError(err, "ADMISSION_FAILED")
		}

		return web.OK(ctx, w, form)
	}
}

func HandleList(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.OK(ctx, w, reg.List())
	}
}
