package router

import (
	"net/http"
	"strings"

	"github.com/leadflow/backend/internal/auth"
	"github.com/leadflow/backend/internal/middleware"
)

// New returns an http.Handler serving the dashboard API under /api/v1.
// Register and login are public; API key management requires a JWT from
// login.
func New(authHandler *auth.Handler, authSvc auth.Service, accounts *auth.Repository) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	jwt := jwtAuth(authSvc, accounts)

	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))

	mux.HandleFunc(base+"/api-keys", jwt(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			authHandler.ListAPIKeys(w, r)
		case http.MethodPost:
			authHandler.CreateAPIKey(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.HandleFunc("DELETE "+base+"/api-keys/{id}", jwt(authHandler.DeactivateAPIKey))

	return mux
}

// jwtAuth validates the Bearer token, loads the account, and stores it in
// request context.
func jwtAuth(svc auth.Service, accounts *auth.Repository) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if len(authz) < 8 || !strings.EqualFold(authz[:7], "bearer ") {
				http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
				return
			}
			id, err := svc.ValidateToken(r.Context(), strings.TrimSpace(authz[7:]))
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			acc, err := accounts.GetByID(r.Context(), id)
			if err != nil || acc == nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next(w, r.WithContext(middleware.WithAccount(r.Context(), acc)))
		}
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
