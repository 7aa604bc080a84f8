// Package api implements the agent's command HTTP surface: container,
// image, and network operations plus the command-audit listing. Every
// mutating operation is written to the audit store with the request's
// trace ID before the response is sent.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bdobrica/Banken/common/trace"
	"github.com/bdobrica/Banken/internal/banken/runtime"
	"github.com/bdobrica/Banken/internal/banken/store"
)

// RouteRegistrar is satisfied by *http.ServeMux and by app.Server's Handle
// method, so the API can register its routes without importing the app
// package directly.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// auditLog is the minimal interface the API needs from the store.
// The production implementation is *store.Store.
type auditLog interface {
	WriteCommand(ctx context.Context, traceID, action, target, result string, payload map[string]any, errorMsg string) error
	RecentCommands(ctx context.Context, limit int) ([]store.AuditEntry, error)
}

// Server handles the agent's command routes.
type Server struct {
	runtime runtime.Runtime
	audit   auditLog
}

// New creates an API server over the given runtime and audit store.
// audit may be nil, in which case commands are executed but not recorded.
func New(rt runtime.Runtime, audit auditLog) *Server {
	return &Server{runtime: rt, audit: audit}
}

// RegisterRoutes adds the command routes to the given RouteRegistrar:
//
//   - GET    /containers             — list all containers.
//   - POST   /containers             — create a container from a JSON spec.
//   - GET    /containers/<id>        — inspect one container.
//   - DELETE /containers/<id>        — force-remove a container.
//   - POST   /containers/<id>/start  — start a container.
//   - POST   /containers/<id>/stop   — stop a container.
//   - POST   /containers/<id>/restart — restart a container.
//   - GET    /images                 — list images.
//   - POST   /images/pull            — pull an image reference.
//   - GET    /networks               — list networks.
//   - POST   /networks               — create a bridge network.
//   - DELETE /networks/<id>          — remove a network.
//   - GET    /audit                  — list recent audited commands.
func (srv *Server) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/containers", http.HandlerFunc(srv.handleContainers))
	r.Handle("/containers/", http.HandlerFunc(srv.handleContainer))
	r.Handle("/images", http.HandlerFunc(srv.handleImages))
	r.Handle("/images/pull", http.HandlerFunc(srv.handlePullImage))
	r.Handle("/networks", http.HandlerFunc(srv.handleNetworks))
	r.Handle("/networks/", http.HandlerFunc(srv.handleNetwork))
	r.Handle("/audit", http.HandlerFunc(srv.handleAudit))
}

// errorResponse is the JSON body returned on any non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// createdResponse is returned by operations that create a resource.
type createdResponse struct {
	ID string `json:"id"`
}

// okResponse is returned by lifecycle operations with no other payload.
type okResponse struct {
	Status string `json:"status"`
}

// pullRequest is the JSON body accepted by POST /images/pull.
type pullRequest struct {
	Ref string `json:"ref"`
}

// networkRequest is the JSON body accepted by POST /networks.
type networkRequest struct {
	Name string `json:"name"`
}

// maxRequestBytes caps JSON request bodies. Container specs are small;
// anything larger is a client error.
const maxRequestBytes = 1 << 20

// --- Containers ----------------------------------------------------------------

// handleContainers dispatches GET and POST for /containers.
func (srv *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		srv.listContainers(w, r)
	case http.MethodPost:
		srv.createContainer(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (srv *Server) listContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := srv.runtime.Containers(r.Context())
	if err != nil {
		slog.Error("api: list containers", "err", err)
		writeError(w, http.StatusBadGateway, "failed to list containers")
		return
	}
	if containers == nil {
		containers = []runtime.ContainerSummary{}
	}
	writeJSON(w, http.StatusOK, containers)
}

func (srv *Server) createContainer(w http.ResponseWriter, r *http.Request) {
	var spec runtime.CreateSpec
	if !decodeBody(w, r, &spec) {
		return
	}
	if spec.Name == "" || spec.Image == "" {
		writeError(w, http.StatusBadRequest, "name and image are required")
		return
	}

	id, err := srv.runtime.Create(r.Context(), spec)
	srv.recordCommand(r.Context(), "container.create", spec.Name, createPayload(spec), err)
	if err != nil {
		slog.Error("api: create container", "name", spec.Name, "err", err)
		writeError(w, http.StatusBadGateway, "failed to create container: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

// createPayload flattens a CreateSpec into the audit payload map. Env values
// pass through the store's redaction before they reach disk.
func createPayload(spec runtime.CreateSpec) map[string]any {
	p := map[string]any{
		"name":  spec.Name,
		"image": spec.Image,
	}
	if len(spec.Env) > 0 {
		env := make(map[string]any, len(spec.Env))
		for k, v := range spec.Env {
			env[k] = v
		}
		p["env"] = env
	}
	if spec.NetworkName != "" {
		p["network"] = spec.NetworkName
	}
	return p
}

// handleContainer dispatches /containers/<id> and /containers/<id>/<action>.
func (srv *Server) handleContainer(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/containers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		srv.inspectContainer(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		srv.removeContainer(w, r, id)
	case action != "" && r.Method == http.MethodPost:
		srv.containerLifecycle(w, r, id, action)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (srv *Server) inspectContainer(w http.ResponseWriter, r *http.Request, id string) {
	meta, err := srv.runtime.Inspect(r.Context(), id)
	if err != nil {
		srv.writeRuntimeError(w, "inspect container", id, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (srv *Server) removeContainer(w http.ResponseWriter, r *http.Request, id string) {
	err := srv.runtime.Remove(r.Context(), id)
	srv.recordCommand(r.Context(), "container.remove", id, nil, err)
	if err != nil {
		srv.writeRuntimeError(w, "remove container", id, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "removed"})
}

// containerLifecycle handles POST /containers/<id>/{start,stop,restart}.
func (srv *Server) containerLifecycle(w http.ResponseWriter, r *http.Request, id, action string) {
	var op func(context.Context, string) error
	switch action {
	case "start":
		op = srv.runtime.Start
	case "stop":
		op = srv.runtime.Stop
	case "restart":
		op = srv.runtime.Restart
	default:
		http.NotFound(w, r)
		return
	}

	err := op(r.Context(), id)
	srv.recordCommand(r.Context(), "container."+action, id, nil, err)
	if err != nil {
		srv.writeRuntimeError(w, action+" container", id, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: action + "ed"})
}

// --- Images --------------------------------------------------------------------

func (srv *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	images, err := srv.runtime.Images(r.Context())
	if err != nil {
		slog.Error("api: list images", "err", err)
		writeError(w, http.StatusBadGateway, "failed to list images")
		return
	}
	if images == nil {
		images = []runtime.ImageSummary{}
	}
	writeJSON(w, http.StatusOK, images)
}

func (srv *Server) handlePullImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req pullRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	err := srv.runtime.PullImage(r.Context(), req.Ref)
	srv.recordCommand(r.Context(), "image.pull", req.Ref, nil, err)
	if err != nil {
		slog.Error("api: pull image", "ref", req.Ref, "err", err)
		writeError(w, http.StatusBadGateway, "failed to pull image: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "pulled"})
}

// --- Networks ------------------------------------------------------------------

func (srv *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		networks, err := srv.runtime.Networks(r.Context())
		if err != nil {
			slog.Error("api: list networks", "err", err)
			writeError(w, http.StatusBadGateway, "failed to list networks")
			return
		}
		if networks == nil {
			networks = []runtime.NetworkSummary{}
		}
		writeJSON(w, http.StatusOK, networks)
	case http.MethodPost:
		srv.createNetwork(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (srv *Server) createNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := srv.runtime.CreateNetwork(r.Context(), req.Name)
	srv.recordCommand(r.Context(), "network.create", req.Name, nil, err)
	if err != nil {
		slog.Error("api: create network", "name", req.Name, "err", err)
		writeError(w, http.StatusBadGateway, "failed to create network: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (srv *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/networks/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	err := srv.runtime.RemoveNetwork(r.Context(), id)
	srv.recordCommand(r.Context(), "network.remove", id, nil, err)
	if err != nil {
		srv.writeRuntimeError(w, "remove network", id, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Status: "removed"})
}

// --- Audit ---------------------------------------------------------------------

func (srv *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if srv.audit == nil {
		writeJSON(w, http.StatusOK, []store.AuditEntry{})
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := srv.audit.RecentCommands(r.Context(), limit)
	if err != nil {
		slog.Error("api: list audit entries", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers -------------------------------------------------------------------

// recordCommand writes an audit row for a mutating command. Audit failures
// are logged, not surfaced: the command itself already ran.
func (srv *Server) recordCommand(ctx context.Context, action, target string, payload map[string]any, cmdErr error) {
	if srv.audit == nil {
		return
	}
	result, errMsg := store.ResultOK, ""
	if cmdErr != nil {
		result, errMsg = store.ResultError, cmdErr.Error()
	}
	if err := srv.audit.WriteCommand(ctx, trace.FromContext(ctx), action, target, result, payload, errMsg); err != nil {
		slog.Warn("api: write command audit", "action", action, "target", target, "err", err)
	}
}

// writeRuntimeError maps runtime errors to HTTP responses, translating
// ErrNotFound to 404.
func (srv *Server) writeRuntimeError(w http.ResponseWriter, op, target string, err error) {
	if errors.Is(err, runtime.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: not found", target))
		return
	}
	slog.Error("api: "+op, "target", target, "err", err)
	writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to %s: %v", op, err))
}

// decodeBody decodes a JSON request body into v, writing a 400 response and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
