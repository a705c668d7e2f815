package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/auth/session"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/ledger"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/security/token"
)

// Handler wires the HTTP routes to the identity, session and ledger services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    *identity.Service
	sessions *session.Service
	ledger   *ledger.Service

	loginThrottle *loginThrottle
}

// NewHandler constructs a Handler. All three services are required.
func NewHandler(log *slog.Logger, cfg Config, users *identity.Service, sessions *session.Service, ledgerSvc *ledger.Service) (*Handler, error) {
	if users == nil || sessions == nil || ledgerSvc == nil {
		return nil, errors.New("api: identity, session and ledger services are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Handler{
		log:           log,
		cfg:           cfg,
		users:         users,
		sessions:      sessions,
		ledger:        ledgerSvc,
		loginThrottle: newLoginThrottle(cfg.LoginIPMax, cfg.LoginIPWindow),
	}, nil
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("GET /me", h.handleMe)

	mux.HandleFunc("POST /user", h.handleRegister)
	mux.HandleFunc("POST /group", h.handleCreateGroup)
	mux.HandleFunc("POST /group/join", h.handleJoinGroup)
	mux.HandleFunc("GET /group/{id}", h.handleGetGroup)

	mux.HandleFunc("POST /transaction", h.handleCreateTransaction)
	mux.HandleFunc("GET /transaction", h.handleListTransactions)
	mux.HandleFunc("GET /transaction/{id}", h.handleGetTransaction)
	mux.HandleFunc("PATCH /transaction/{id}", h.handleUpdateTransaction)
	mux.HandleFunc("DELETE /transaction/{id}", h.handleDeleteTransaction)
}

// requireAuth validates the bearer token and writes 401 when it is missing or invalid.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return token.Claims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return token.Claims{}, false
	}
	return claims, true
}

// optionalAuth returns the claims when a bearer token is presented. An invalid token
// is still a 401; only an absent one passes anonymously.
func (h *Handler) optionalAuth(w http.ResponseWriter, r *http.Request) (token.Claims, bool) {
	if bearerToken(r) == "" {
		return token.Claims{}, true
	}
	return h.requireAuth(w, r)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
