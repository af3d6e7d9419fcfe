// Package api exposes the provisioner over HTTP/JSON
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/unit-provisioner/pkg/apierror"
	"github.com/psantana5/unit-provisioner/pkg/auth"
	"github.com/psantana5/unit-provisioner/pkg/logging"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/provision"
	"github.com/psantana5/unit-provisioner/pkg/relay"
	"github.com/psantana5/unit-provisioner/pkg/store"
	"github.com/psantana5/unit-provisioner/pkg/upstream"
)

// Handler serves the provisioner API
type Handler struct {
	service       *provision.Service
	backend       store.Backend
	maintainerKey *auth.MaintainerKey
	upstreams     *upstream.Checker
	logger        *logging.Logger
}

// NewHandler creates the API handler. backend is only used for health checks.
func NewHandler(service *provision.Service, backend store.Backend, maintainerKey *auth.MaintainerKey, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		service:       service,
		backend:       backend,
		maintainerKey: maintainerKey,
		logger:        logger,
	}
}

// WithUpstreams reports the checker's probe results in the health response
func (h *Handler) WithUpstreams(c *upstream.Checker) *Handler {
	h.upstreams = c
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Workflows
	r.HandleFunc("/provision", h.Provision).Methods("POST")
	r.HandleFunc("/top-up", h.TopUp).Methods("POST")
	r.HandleFunc("/minimum-amount", h.MinimumAmount).Methods("GET")

	// Units and runs
	r.HandleFunc("/units", h.ListUnits).Methods("GET")
	r.HandleFunc("/units/{id}", h.GetUnit).Methods("GET")
	r.HandleFunc("/units/{id}/owner", h.TransferOwnership).Methods("POST")
	r.HandleFunc("/units/{id}/transfers", h.TransferHistory).Methods("GET")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{ref}", h.GetRun).Methods("GET")

	// Raised by managed units
	r.HandleFunc("/notifications/{event}", h.Notify).Methods("POST")

	// Maintainers
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(auth.RequireMaintainerKey(h.maintainerKey))
	admin.HandleFunc("/units", h.SeedUnit).Methods("POST")
	admin.HandleFunc("/relay", h.GetRelay).Methods("GET")
	admin.HandleFunc("/relay", h.SetRelay).Methods("PUT")
	admin.HandleFunc("/unit-image", h.UploadImage).Methods("PUT")

	r.HandleFunc("/whoami", h.WhoAmI).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// Provision handles a paid unit creation
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req provision.ProvisionRequest
	if !decode(w, r, &req) {
		return
	}
	unit, err := h.service.Provision(r.Context(), auth.Caller(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProvisionResponse{Unit: unit})
}

// TopUp handles a paid top-up of an existing unit
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req provision.TopUpRequest
	if !decode(w, r, &req) {
		return
	}
	progress, err := h.service.TopUp(r.Context(), auth.Caller(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// MinimumAmount reports the current minimum provisioning payment
func (h *Handler) MinimumAmount(w http.ResponseWriter, r *http.Request) {
	amount, err := h.service.MinimumRequiredAmount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MinimumAmountResponse{Amount: amount})
}

// ListUnits lists ownership records, optionally only those of ?owner=
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	if owner := r.URL.Query().Get("owner"); owner != "" {
		p, ok := h.principalParam(w, r, owner)
		if !ok {
			return
		}
		records, err := h.service.UnitsOwnedBy(p)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, UnitsResponse{Units: records, Count: len(records)})
		return
	}

	records, err := h.service.ListUnits()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UnitsResponse{Units: records, Count: len(records)})
}

// GetUnit returns one ownership record
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	unit, ok := h.principalParam(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	record, err := h.service.GetUnit(unit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// TransferOwnership hands a unit to a new owner
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	unit, ok := h.principalParam(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.service.TransferOwnership(r.Context(), auth.Caller(r.Context()), unit, req.NewOwner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// TransferHistory lists the owner changes of a unit
func (h *Handler) TransferHistory(w http.ResponseWriter, r *http.Request) {
	unit, ok := h.principalParam(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	history, err := h.service.TransferHistory(unit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransfersResponse{Transfers: history, Count: len(history)})
}

// ListRuns lists every progress record
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListRuns()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// GetRun returns the progress record of one funding block
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ref, err := strconv.ParseUint(mux.Vars(r)["ref"], 10, 64)
	if err != nil {
		h.writeError(w, r, apierror.BadRequest().WithMessage("Funding block must be an unsigned integer"))
		return
	}
	run, err := h.service.GetRun(ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Notify relays an event raised by a managed unit
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	event, ok := relay.ParseEvent(mux.Vars(r)["event"])
	if !ok {
		h.writeError(w, r, apierror.NotFound().WithMessagef("Unknown event %q", mux.Vars(r)["event"]))
		return
	}
	var req provision.NotifyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.Notify(r.Context(), auth.Caller(r.Context()), event, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SeedUnit records an existing unit
func (h *Handler) SeedUnit(w http.ResponseWriter, r *http.Request) {
	var req SeedUnitRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.service.SeedUnit(auth.Caller(r.Context()), req.Unit, req.GroupTag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetRelay returns the relay address
func (h *Handler) GetRelay(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Maintainer()(auth.Caller(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := h.service.Relay()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RelayRequest{Address: addr})
}

// SetRelay changes the relay address
func (h *Handler) SetRelay(w http.ResponseWriter, r *http.Request) {
	var req RelayRequest
	if !decode(w, r, &req) {
		return
	}
	addr, err := h.service.SetRelay(auth.Caller(r.Context()), req.Address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RelayRequest{Address: addr})
}

// UploadImage replaces the unit image
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	var req UploadImageRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.service.UploadImage(auth.Caller(r.Context()), req.Image); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadImageResponse{Bytes: len(req.Image)})
}

// WhoAmI echoes the caller identity the request was verified as
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	caller := auth.Caller(r.Context())
	writeJSON(w, http.StatusOK, WhoAmIResponse{Principal: caller, Anonymous: caller.IsAnonymous()})
}

func (h *Handler) principalParam(w http.ResponseWriter, r *http.Request, raw string) (principal.Principal, bool) {
	p, err := principal.FromText(raw)
	if err != nil {
		h.writeError(w, r, apierror.BadRequest().WithMessagef("Invalid principal %q: %v", raw, err))
		return principal.Principal{}, false
	}
	return p, true
}

// writeError sends err as JSON with the status matching its kind
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierror.From(err)
	status := apierror.HTTPStatus(apiErr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": RequestID(r.Context()),
			"error":      apiErr.Error(),
		})
	}
	writeJSON(w, status, apiErr)
}

func decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, apierror.Deserialize().WithMessagef("Invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
