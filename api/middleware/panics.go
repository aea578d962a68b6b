package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
)

// Panics turns a panic in the handler chain into an error so that the
// errors middleware can answer the request.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = weberr.InternalError(
						fmt.Errorf("panic: %v", rec),
						"INTERNAL_ERROR",
						weberr.WithFields(map[string]interface{}{"trace": string(debug.Stack())}),
					)
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
