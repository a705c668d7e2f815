package api

import (
	"net/http"
	"strings"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/ledger"
)

func (h *Handler) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req ledger.NewTransaction
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	t, err := h.ledger.Create(r.Context(), claims.ID, req)
	if err != nil {
		writeFault(w, h.log, "transaction.create.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ts, err := h.ledger.List(r.Context())
	if err != nil {
		writeFault(w, h.log, "transaction.list.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.ledger.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFault(w, h.log, "transaction.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleUpdateTransaction applies a merge-patch. A presented token records the updater;
// without one the stored updater is cleared.
func (h *Handler) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.optionalAuth(w, r)
	if !ok {
		return
	}
	var p ledger.Patch
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &p); err != nil {
		writeDecodeError(w, err)
		return
	}
	p.UpdatedBy = claims.ID

	t, err := h.ledger.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		writeFault(w, h.log, "transaction.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTransaction takes the channel to announce on from ?groupId=, and the
// actor from the token or ?userId=.
func (h *Handler) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.optionalAuth(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID := claims.ID
	if userID == "" {
		userID = strings.TrimSpace(q.Get("userId"))
	}

	t, err := h.ledger.Delete(r.Context(), r.PathValue("id"), userID, q.Get("groupId"))
	if err != nil {
		writeFault(w, h.log, "transaction.delete.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
