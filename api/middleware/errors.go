package middleware

import (
	"context"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/sirupsen/logrus"
)

// Errors renders handler errors into the API error envelope. Errors that
// carry no response are reported as INTERNAL_ERROR.
func Errors(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			fields := logrus.Fields{
				"req_id":  ContextRequestID(ctx),
				"message": err,
			}
			if f, ok := weberr.Fields(err); ok {
				for k, v := range f {
					fields[k] = v
				}
			}

			body, code, ok := weberr.Response(err)
			if !ok {
				body = weberr.ErrorResponse{Error: "INTERNAL_ERROR"}
				code = http.StatusInternalServerError
			}
			fields["statuscode"] = code

			entry := log.WithFields(fields)
			if code >= http.StatusInternalServerError {
				entry.Error("ERROR")
			} else {
				entry.Warn("request rejected")
			}

			return web.Respond(ctx, w, body, code)
		}
		return h
	}
	return m
}
