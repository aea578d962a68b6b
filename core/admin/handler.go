package admin

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/core/catalog"
	"github.com/coachingcentre/notes-store/core/claims"
)

var errAdminOnly = weberr.Forbidden(errors.New("catalog changes require an admin session"), "FORBIDDEN")

// HandleUpload accepts a multipart form with a "file" PDF, an optional
// "cover" image and the title, description, price and category fields.
func HandleUpload(l *Library, maxSize int64) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if !claims.IsAdmin(ctx) {
			return errAdminOnly
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to parse form: %w", err), "INVALID_FORM")
		}
		defer r.MultipartForm.RemoveAll()

		pdf, err := formFile(r, "file")
		if err != nil {
			return err
		}
		if pdf == nil {
			return weberr.BadRequest(ErrPDFRequired, "PDF_FILE_REQUIRED")
		}
		defer pdf.Body.(multipart.File).Close()

		cover, err := formFile(r, "cover")
		if err != nil {
			return err
		}
		if cover != nil {
			defer cover.Body.(multipart.File).Close()
		}

		nb := BookNew{
			Title:       r.FormValue("title"),
			Description: r.FormValue("description"),
			Price:       r.FormValue("price"),
			Category:    r.FormValue("category"),
		}

		b, err := l.Upload(ctx, nb, pdf, cover)
		switch {
		case errors.Is(err, ErrPDFRequired):
			return weberr.BadRequest(err, "PDF_FILE_REQUIRED")
		case errors.Is(err, ErrInvalidFileType):
			return weberr.BadRequest(err, "INVALID_FILE_TYPE")
		case err != nil:
			return weberr.InternalError(err, "UPLOAD_FAILED")
		}

		return web.OK(ctx, w, b)
	}
}

func formFile(r *http.Request, field string) (*File, error) {
	f, fh, err := r.FormFile(field)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return nil, nil
	case err != nil:
		return nil, weberr.BadRequest(fmt.Errorf("reading %s: %w", field, err), "INVALID_FORM")
	}
	return &File{Name: fh.Filename, Body: f}, nil
}

func HandleBooks(c *catalog.Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.OK(ctx, w, c.Uploaded())
	}
}

func HandleCategories(c *catalog.Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.OK(ctx, w, c.Categories())
	}
}

func HandleDelete(l *Library) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if !claims.IsAdmin(ctx) {
			return errAdminOnly
		}

		id := catalog.ID(web.Param(r, "id"))

		_, err := l.Delete(ctx, id)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			return weberr.NotFound(err, "BOOK_NOT_FOUND")
		case err != nil:
			return weberr.InternalError(err, "DELETE_FAILED")
		}

		return web.OK(ctx, w, struct {
			Deleted catalog.ID `json:"deleted"`
		}{id})
	}
}
