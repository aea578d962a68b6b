package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/rate"
)

// RateLimit rejects requests of a client address once its limiter runs dry.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if lim == nil {
				return handler(ctx, w, r)
			}

			if !lim.Check(clientAddr(r)) {
				err := errors.New("too many requests, slow down")
				return weberr.NewError(err, "TOO_MANY_REQUESTS", http.StatusTooManyRequests)
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
