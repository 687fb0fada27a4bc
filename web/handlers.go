package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stratakit/strata/core/entity"
	"github.com/stratakit/strata/ports"
)

// mountEntity registers the derived action endpoints for one
// definition under its name, plus any caller-registered extras.
func (h *Handler) mountEntity(r chi.Router, def *entity.Definition) {
	r.Route("/"+def.Name(), func(er chi.Router) {
		er.Use(h.withResolvedSession)

		er.Post("/create", h.handleCreate(def))
		er.Post("/update", h.handleUpdate(def))
		er.Post("/delete", h.handleDelete(def))
		er.Post("/archive.set", h.handleArchiveSet(def))
		er.Post("/read.from-id", h.handleReadFromID(def))
		er.Post("/read.all", h.handleReadAll(def))
		er.Post("/read.archived", h.handleReadArchived(def))
		er.Post("/read.version-history", h.handleVersionHistory(def))
		er.Post("/version.restore", h.handleVersionRestore(def))
		er.Post("/version.delete", h.handleVersionDelete(def))

		for action, handler := range def.ExtraRoutes() {
			er.Handle("/"+action, handler)
		}
	})
}

// withResolvedSession resolves the session cookie and records the
// visited URL on the session.
func (h *Handler) withResolvedSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.cookie)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		session, err := h.sessions.Resolve(r.Context(), cookie.Value)
		if err != nil {
			h.logger.Error().Err(err).Msg("session resolution failed")
			respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		if session == nil {
			next.ServeHTTP(w, r)
			return
		}

		if err := h.sessions.SetPreviousURL(r.Context(), cookie.Value, r.URL.Path); err != nil {
			h.logger.Warn().Err(err).Msg("recording previous url failed")
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), session)))
	})
}

// authorize resolves roles for the request's session and checks the
// action. A nil role slice with ok=false means the response has been
// written.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, entityName string, action ports.Action) ([]ports.Role, bool) {
	session := sessionFrom(r.Context())
	if session == nil || !session.SignedIn() {
		h.authFailure("unauthenticated")
		respondError(w, r, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return nil, false
	}

	roles, err := h.access.GetRoles(r.Context(), session.AccountID)
	if err != nil {
		h.logger.Error().Err(err).Str("account", session.AccountID).Msg("role resolution failed")
		respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return nil, false
	}

	allowed, err := h.access.CanDo(r.Context(), roles, entityName, action)
	if err != nil {
		h.logger.Error().Err(err).Msg("permission check failed")
		respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return nil, false
	}
	if !allowed {
		h.authFailure("forbidden")
		respondError(w, r, http.StatusForbidden, "forbidden",
			fmt.Sprintf("not allowed to %s on %s", action, entityName))
		return nil, false
	}

	return roles, true
}

func (h *Handler) authFailure(reason string) {
	if h.metrics != nil {
		h.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
}

// observe records one operation's outcome and duration.
func (h *Handler) observe(entityName string, action ports.Action, start time.Time, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.OperationsTotal.WithLabelValues(entityName, string(action), outcome).Inc()
	h.metrics.OperationDuration.WithLabelValues(entityName, string(action)).Observe(time.Since(start).Seconds())
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

// filterRecords passes record payloads through the access-control
// field filter for the given action.
func (h *Handler) filterRecords(ctx context.Context, roles []ports.Role, entityName string, records []map[string]any, action ports.Action) ([]map[string]any, error) {
	filtered, err := h.access.FilterAction(ctx, roles, entityName, records, action)
	if err != nil {
		return nil, err
	}
	if filtered == nil {
		filtered = []map[string]any{}
	}
	return filtered, nil
}

// broadcast fans out a lifecycle message scoped to the caller's roles
// and the record's attribute tags. Best effort.
func (h *Handler) broadcast(ctx context.Context, entityName string, action ports.Action, roles []ports.Role, record map[string]any) {
	if h.broadcaster == nil {
		return
	}

	scope := make([]string, 0, len(roles))
	for _, role := range roles {
		scope = append(scope, role.Name)
	}
	if attrs, ok := record["attributes"].([]string); ok {
		scope = append(scope, attrs...)
	}

	topic := fmt.Sprintf("struct:%s:%s", entityName, action)
	if err := h.broadcaster.Broadcast(ctx, topic, scope, record); err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("broadcast failed")
	}
}

func (h *Handler) handleCreate(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			Fields map[string]any `json:"fields"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := def.ValidateFields(req.Fields); err != nil {
			h.observe(def.Name(), ports.ActionCreate, start, "error")
			respondEntityError(w, r, err)
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionCreate)
		if !ok {
			return
		}

		rec, err := def.NewRecord(r.Context(), req.Fields)
		if err != nil {
			h.observe(def.Name(), ports.ActionCreate, start, "error")
			respondEntityError(w, r, err)
			return
		}

		filtered, err := h.filterRecords(r.Context(), roles, def.Name(), []map[string]any{rec.Data()}, ports.ActionCreate)
		if err != nil || len(filtered) == 0 {
			h.observe(def.Name(), ports.ActionCreate, start, "error")
			respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionCreate, roles, rec.Data())
		h.observe(def.Name(), ports.ActionCreate, start, "ok")
		respondOK(w, filtered[0])
	}
}

func (h *Handler) handleUpdate(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID     string         `json:"id"`
			Fields map[string]any `json:"fields"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := def.ValidatePartial(req.Fields); err != nil {
			h.observe(def.Name(), ports.ActionUpdate, start, "error")
			respondEntityError(w, r, err)
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionUpdate)
		if !ok {
			return
		}

		rec, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionUpdate, start, "error")
			respondEntityError(w, r, err)
			return
		}

		// Filter the partial itself: fields the roles may not alter
		// are stripped before validation.
		partials, err := h.filterRecords(r.Context(), roles, def.Name(), []map[string]any{req.Fields}, ports.ActionUpdate)
		if err != nil || len(partials) == 0 {
			h.observe(def.Name(), ports.ActionUpdate, start, "error")
			respondError(w, r, http.StatusForbidden, "forbidden", "no updatable fields")
			return
		}

		if err := rec.Update(r.Context(), partials[0]); err != nil {
			h.observe(def.Name(), ports.ActionUpdate, start, "error")
			respondEntityError(w, r, err)
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionUpdate, roles, rec.Data())
		h.observe(def.Name(), ports.ActionUpdate, start, "ok")
		respondOK(w, rec.Data())
	}
}

func (h *Handler) handleDelete(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionDelete)
		if !ok {
			return
		}

		rec, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionDelete, start, "error")
			respondEntityError(w, r, err)
			return
		}

		if err := rec.Delete(r.Context()); err != nil {
			h.observe(def.Name(), ports.ActionDelete, start, "error")
			respondEntityError(w, r, err)
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionDelete, roles, rec.Data())
		h.observe(def.Name(), ports.ActionDelete, start, "ok")
		respondOK(w, map[string]any{"id": req.ID})
	}
}

func (h *Handler) handleArchiveSet(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID       string `json:"id"`
			Archived bool   `json:"archived"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionArchive)
		if !ok {
			return
		}

		rec, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionArchive, start, "error")
			respondEntityError(w, r, err)
			return
		}

		if err := rec.SetArchived(r.Context(), req.Archived); err != nil {
			h.observe(def.Name(), ports.ActionArchive, start, "error")
			respondEntityError(w, r, err)
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionArchive, roles, rec.Data())
		h.observe(def.Name(), ports.ActionArchive, start, "ok")
		respondOK(w, rec.Data())
	}
}

func (h *Handler) handleReadFromID(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionRead)
		if !ok {
			return
		}

		rec, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionRead, start, "error")
			respondEntityError(w, r, err)
			return
		}

		filtered, err := h.filterRecords(r.Context(), roles, def.Name(), []map[string]any{rec.Data()}, ports.ActionRead)
		if err != nil {
			h.observe(def.Name(), ports.ActionRead, start, "error")
			respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		if len(filtered) == 0 {
			h.observe(def.Name(), ports.ActionRead, start, "error")
			respondError(w, r, http.StatusForbidden, "forbidden", "record not visible")
			return
		}

		h.observe(def.Name(), ports.ActionRead, start, "ok")
		respondOK(w, filtered[0])
	}
}

func (h *Handler) handleReadAll(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleList(w, r, def, func(ctx context.Context) ([]*entity.Record, error) {
			return def.All(ctx, false)
		})
	}
}

func (h *Handler) handleReadArchived(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.handleList(w, r, def, def.Archived)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, def *entity.Definition, list func(context.Context) ([]*entity.Record, error)) {
	start := time.Now()

	roles, ok := h.authorize(w, r, def.Name(), ports.ActionRead)
	if !ok {
		return
	}

	records, err := list(r.Context())
	if err != nil {
		h.observe(def.Name(), ports.ActionRead, start, "error")
		respondEntityError(w, r, err)
		return
	}

	payloads := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, rec.Data())
	}

	filtered, err := h.filterRecords(r.Context(), roles, def.Name(), payloads, ports.ActionRead)
	if err != nil {
		h.observe(def.Name(), ports.ActionRead, start, "error")
		respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	h.observe(def.Name(), ports.ActionRead, start, "ok")
	respondOK(w, map[string]any{"records": filtered, "count": len(filtered)})
}

func (h *Handler) handleVersionHistory(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionVersionRead)
		if !ok {
			return
		}

		rec, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionRead, start, "error")
			respondEntityError(w, r, err)
			return
		}

		versions, err := rec.VersionHistory(r.Context())
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionRead, start, "error")
			respondEntityError(w, r, err)
			return
		}

		payloads := make([]map[string]any, 0, len(versions))
		for _, v := range versions {
			payloads = append(payloads, v.Data())
		}

		filtered, err := h.filterRecords(r.Context(), roles, def.Name(), payloads, ports.ActionVersionRead)
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionRead, start, "error")
			respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
			return
		}

		h.observe(def.Name(), ports.ActionVersionRead, start, "ok")
		respondOK(w, map[string]any{"versions": filtered, "count": len(filtered)})
	}
}

// findVersion loads one surviving version of a record.
func (h *Handler) findVersion(ctx context.Context, def *entity.Definition, recordID, versionID string) (*entity.Version, error) {
	rec, err := def.FromID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	versions, err := rec.VersionHistory(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.VersionID() == versionID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("version %q: %w", versionID, entity.ErrNotFound)
}

func (h *Handler) handleVersionRestore(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID        string `json:"id"`
			VersionID string `json:"version_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionVersionRestore)
		if !ok {
			return
		}

		version, err := h.findVersion(r.Context(), def, req.ID, req.VersionID)
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionRestore, start, "error")
			respondEntityError(w, r, err)
			return
		}

		if err := version.Restore(r.Context()); err != nil {
			h.observe(def.Name(), ports.ActionVersionRestore, start, "error")
			respondEntityError(w, r, err)
			return
		}

		restored, err := def.FromID(r.Context(), req.ID)
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionRestore, start, "error")
			respondEntityError(w, r, err)
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionVersionRestore, roles, restored.Data())
		h.observe(def.Name(), ports.ActionVersionRestore, start, "ok")
		respondOK(w, restored.Data())
	}
}

func (h *Handler) handleVersionDelete(def *entity.Definition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req struct {
			ID        string `json:"id"`
			VersionID string `json:"version_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		roles, ok := h.authorize(w, r, def.Name(), ports.ActionVersionDelete)
		if !ok {
			return
		}

		version, err := h.findVersion(r.Context(), def, req.ID, req.VersionID)
		if err != nil {
			h.observe(def.Name(), ports.ActionVersionDelete, start, "error")
			respondEntityError(w, r, err)
			return
		}

		if err := version.Delete(r.Context()); err != nil {
			h.observe(def.Name(), ports.ActionVersionDelete, start, "error")
			respondEntityError(w, r, err)
			return
		}

		h.broadcast(r.Context(), def.Name(), ports.ActionVersionDelete, roles, version.Data())
		h.observe(def.Name(), ports.ActionVersionDelete, start, "ok")
		respondOK(w, map[string]any{"id": req.ID, "version_id": req.VersionID})
	}
}
