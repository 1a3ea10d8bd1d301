package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"provador/internal/domain"
	"provador/internal/gateway"
	"provador/internal/workflow"
)

// SessionCreate opens a new workflow session and returns its ID together
// with the initial snapshot.
func (a *App) SessionCreate(w http.ResponseWriter, r *http.Request) {
	m := a.newMachine()
	id := a.Sessions.Create(m)
	a.json(w, http.StatusCreated, map[string]any{
		"id":    id,
		"state": a.snapshot(m),
	})
}

// SessionState returns the current snapshot of a session's workflow.
func (a *App) SessionState(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.snapshot(m))
}

type photoRequest struct {
	Photo string `json:"photo"`
}

// SessionPhoto submits the user's photo (as a data URL) and fetches the
// catalog. The response is the resulting snapshot; workflow failures map
// onto the error envelope while the machine keeps its own consistent state.
func (a *App) SessionPhoto(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	var req photoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Photo == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", a.localize(r, "bad_request"), "photo field required")
		return
	}
	photo, err := workflow.ParseDataURL(req.Photo)
	if err != nil {
		a.error(w, r, http.StatusUnprocessableEntity, string(domain.KindValidation), a.localize(r, "validation"), err.Error())
		return
	}
	if err := m.SubmitPhoto(r.Context(), photo); err != nil {
		a.workflowError(w, r, m, err)
		return
	}
	a.json(w, http.StatusOK, a.snapshot(m))
}

type tryOnRequest struct {
	ProductID string `json:"product_id"`
}

// SessionTryOn selects a product and requests the AI composite.
func (a *App) SessionTryOn(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	var req tryOnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		a.error(w, r, http.StatusBadRequest, "bad_request", a.localize(r, "bad_request"), "product_id field required")
		return
	}
	if err := m.SelectProduct(r.Context(), req.ProductID); err != nil {
		a.workflowError(w, r, m, err)
		return
	}
	a.json(w, http.StatusOK, a.snapshot(m))
}

// SessionBack returns from the result view to product selection.
func (a *App) SessionBack(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	if err := m.BackToSelect(); err != nil {
		a.workflowError(w, r, m, err)
		return
	}
	a.json(w, http.StatusOK, a.snapshot(m))
}

// SessionReset clears the workflow back to the upload stage.
func (a *App) SessionReset(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	m.Reset()
	a.json(w, http.StatusOK, a.snapshot(m))
}

// SessionRetry re-issues the catalog fetch after a failure.
func (a *App) SessionRetry(w http.ResponseWriter, r *http.Request) {
	m, ok := a.machine(w, r)
	if !ok {
		return
	}
	if err := m.RetryListProducts(r.Context()); err != nil {
		a.workflowError(w, r, m, err)
		return
	}
	a.json(w, http.StatusOK, a.snapshot(m))
}

// snapshot redacts the raw technical detail outside diagnostic builds
// before handing state to the client.
func (a *App) snapshot(m *workflow.Machine) workflow.Snapshot {
	snap := m.Snapshot()
	if snap.Err != nil && !a.Config.DebugDetails {
		redacted := *snap.Err
		redacted.Detail = ""
		snap.Err = &redacted
	}
	return snap
}

func (a *App) machine(w http.ResponseWriter, r *http.Request) (*workflow.Machine, bool) {
	id := chi.URLParam(r, "id")
	m, err := a.Sessions.Get(id)
	if err != nil {
		a.error(w, r, http.StatusNotFound, "session_gone", a.localize(r, "session_gone"), id)
		return nil, false
	}
	return m, true
}

// workflowError translates transition failures into the HTTP contract. The
// machine has already recorded recoverable failures on its own state, so the
// snapshot stays authoritative for the UI.
func (a *App) workflowError(w http.ResponseWriter, r *http.Request, m *workflow.Machine, err error) {
	switch {
	case errors.Is(err, workflow.ErrInvalidTransition):
		a.error(w, r, http.StatusConflict, "invalid_transition", a.localize(r, "invalid_transition"), err.Error())
	case errors.Is(err, workflow.ErrUnknownProduct):
		a.error(w, r, http.StatusNotFound, "unknown_product", a.localize(r, "unknown_product"), err.Error())
	case errors.Is(err, domain.ErrStaleRequest):
		a.error(w, r, http.StatusConflict, "stale_request", a.localize(r, "stale_request"), err.Error())
	case errors.Is(err, domain.ErrNotAnImage), errors.Is(err, domain.ErrPhotoTooLarge):
		a.error(w, r, http.StatusUnprocessableEntity, string(domain.KindValidation), a.localize(r, "validation"), err.Error())
	case errors.Is(err, domain.ErrEmptyCatalog):
		// Not a call failure: the catalog is simply empty. The snapshot
		// carries the normalization_empty record for the UI to display.
		a.json(w, http.StatusOK, a.snapshot(m))
	case errors.Is(err, domain.ErrResultNotFound):
		a.error(w, r, http.StatusBadGateway, string(domain.KindResultNotFound), a.localize(r, "result_not_found"), err.Error())
	default:
		if ge, ok := gateway.AsError(err); ok && ge.Kind == gateway.KindUpstreamStatus {
			body := errorBody{
				Error:  a.localize(r, "upstream_status"),
				Kind:   string(domain.KindUpstreamStatus),
				Status: ge.Status,
			}
			if a.Config.DebugDetails {
				body.Details = ge.Detail
			}
			a.json(w, http.StatusBadGateway, body)
			return
		}
		a.error(w, r, http.StatusBadGateway, string(domain.KindGatewayUnreachable), a.localize(r, "gateway_unreachable"), err.Error())
	}
}
