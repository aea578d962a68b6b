package catalog

import (
	"context"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
)

// HandleList serves GET /api/books?category=.
func HandleList(s *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.OK(ctx, w, s.List(web.Query(r, "category")))
	}
}
