package api

import (
	"net/http"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	u, err := h.users.Register(r.Context(), identity.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		GroupID:  req.GroupID,
	})
	if err != nil {
		writeFault(w, h.log, "user.register.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, u.Public())
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	g, err := h.users.CreateGroup(r.Context(), req.Name)
	if err != nil {
		writeFault(w, h.log, "group.create.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleJoinGroup moves the caller into a group; live connections follow via the hub.
func (h *Handler) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req joinGroupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	u, err := h.users.JoinGroup(r.Context(), claims.ID, req.GroupID)
	if err != nil {
		writeFault(w, h.log, "group.join.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, u.Public())
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}
	g, err := h.users.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, h.log, "group.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
