package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coachingcentre/notes-store/api/web"
	"github.com/coachingcentre/notes-store/api/weberr"
	"github.com/coachingcentre/notes-store/core/claims"
)

// Authenticate rejects requests without a live admin bearer token.
func Authenticate(a *Admin) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			token := web.BearerToken(r)

			err := a.Authorize(ctx, token)
			switch {
			case errors.Is(err, ErrUnauthorized):
				return weberr.NotAuthorized(errors.New("admin session missing or expired"), "UNAUTHORIZED")
			case err != nil:
				return fmt.Errorf("authenticating admin: %w", err)
			}

			ctx = claims.Set(ctx, claims.Claims{Token: token, Role: claims.RoleAdmin})
			return handler(ctx, w, r.WithContext(ctx))
		}
		return h
	}
	return m
}

func HandleLogin(a *Admin) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in struct {
			Password string `json:"password"`
		}
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err), "INVALID_PASSWORD")
		}

		token, err := a.Login(ctx, in.Password)
		switch {
		case errors.Is(err, ErrInvalidPassword):
			return weberr.NotAuthorized(err, "INVALID_PASSWORD")
		case err != nil:
			return fmt.Errorf("logging in: %w", err)
		}

		return web.OK(ctx, w, struct {
			Token string `json:"token"`
		}{token})
	}
}

func HandleLogout(a *Admin) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err, "UNAUTHORIZED")
		}

		if err := a.Logout(ctx, clm.Token); err != nil {
			return fmt.Errorf("revoking session: %w", err)
		}

		return web.OK(ctx, w, nil)
	}
}
