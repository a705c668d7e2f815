package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	if blocked, retryAfter := h.loginThrottle.blocked(ip, now); blocked {
		h.log.Info("auth.login.rate_limited", "ip", ip.String())
		writeRateLimited(w, retryAfter)
		return
	}

	issued, u, err := h.sessions.Login(r.Context(), email, req.Password)
	if err != nil {
		if fault.IsNotFound(err) || fault.IsUnauthorized(err) {
			h.loginThrottle.fail(ip, now)
		}
		writeFault(w, h.log, "auth.login.fail", err)
		return
	}
	h.loginThrottle.reset(ip)

	writeJSON(w, http.StatusOK, loginResponse{Issued: issued, User: u.Public()})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and refresh_token are required")
		return
	}

	issued, err := h.sessions.RefreshTokens(r.Context(), req.UserID, req.RefreshToken)
	if err != nil {
		writeFault(w, h.log, "auth.refresh.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Logout(r.Context(), claims.ID); err != nil {
		writeFault(w, h.log, "auth.logout.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUser(r.Context(), claims.ID)
	if err != nil {
		if fault.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "user not found")
			return
		}
		writeFault(w, h.log, "auth.me.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: u.Public()})
}
