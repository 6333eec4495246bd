package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/pkg/api"
)

// RegisterHandlers registers the storage contract's HTTP surface:
// PUT/GET on /pages/{id}, GET /durability, POST /maintenance/cool, plus
// an unauthenticated /ping health check. No replication, consensus, or
// snapshot endpoints -- this host is a thin front-end over Put/GetAt,
// the durability watermarks, and segment cooling.
func (h *Host) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/pages/", h.auth.Wrap(h.handlePage))
	mux.HandleFunc("/durability", h.auth.Wrap(h.handleDurability))
	mux.HandleFunc("/maintenance/cool", h.auth.Wrap(h.handleCool))
	mux.HandleFunc("/ping", handlePing)
}

func pageIdFromPath(path string) (types.PageId, bool) {
	rest := strings.TrimPrefix(path, "/pages/")
	if rest == path || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return types.PageId(n), true
}

func (h *Host) handlePage(w http.ResponseWriter, r *http.Request) {
	pageId, ok := pageIdFromPath(r.URL.Path)
	if !ok {
		http.Error(w, "invalid page id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		h.handlePutPage(w, r, pageId)
	case http.MethodGet:
		h.handleGetPage(w, r, pageId)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Host) handlePutPage(w http.ResponseWriter, r *http.Request, pageId types.PageId) {
	var req api.PutPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	vdl, err := h.compute.Put(r.Context(), pageId, req.Offset, req.Data)
	if err != nil {
		writeJSONError(w, err, api.PutPageResponse{})
		return
	}

	writeJSON(w, http.StatusOK, api.PutPageResponse{Status: "success", Vdl: uint64(vdl)})
}

func (h *Host) handleGetPage(w http.ResponseWriter, r *http.Request, pageId types.PageId) {
	readPoint := h.compute.ReadPoint()
	if q := r.URL.Query().Get("read_point"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			http.Error(w, "invalid read_point", http.StatusBadRequest)
			return
		}
		readPoint = types.Lsn(n)
	}

	page, err := h.compute.GetAt(r.Context(), pageId, readPoint)
	if err != nil {
		writeJSONError(w, err, api.GetPageResponse{})
		return
	}

	writeJSON(w, http.StatusOK, api.GetPageResponse{
		Status:  "success",
		Data:    page[:],
		ReadLsn: uint64(readPoint),
	})
}

func (h *Host) handleDurability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := h.engine.GetDurabilityState(r.Context())
	if err != nil {
		writeJSONError(w, err, api.DurabilityResponse{})
		return
	}

	writeJSON(w, http.StatusOK, api.DurabilityResponse{
		Status: "success",
		Vcl:    uint64(state.Vcl),
		Vdl:    uint64(state.Vdl),
	})
}

// handleCool triggers a cold-tiering pass: the engine's oldest sealed
// hot segments (beyond keep_hot) move to cold/, mirrored to S3 when a
// mirror is configured. No-op on a single-file-backed engine.
func (h *Host) handleCool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	keepHot := 1
	if q := r.URL.Query().Get("keep_hot"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "invalid keep_hot", http.StatusBadRequest)
			return
		}
		keepHot = n
	}

	cooled, err := h.engine.CoolColdSegments(r.Context(), keepHot)
	if err != nil {
		writeJSONError(w, err, api.CoolResponse{})
		return
	}

	writeJSON(w, http.StatusOK, api.CoolResponse{Status: "success", CooledSegmentIds: cooled})
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, api.PingResponse{Status: "ok", Version: "1.0.0"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeJSONError maps the storage contract's typed errors to HTTP
// status codes and writes resp (with Status/Error set) as the body.
// resp must be one of the api response DTOs, which all share the
// Status/Error field shape.
func writeJSONError(w http.ResponseWriter, err error, resp any) {
	status := http.StatusInternalServerError

	switch err.(type) {
	case *types.PageNotFoundError:
		status = http.StatusNotFound
	case *types.LsnBeyondDurableError:
		status = http.StatusConflict
	case *types.PageOverflowError:
		status = http.StatusBadRequest
	case *types.CorruptionError:
		status = http.StatusInternalServerError
	case *types.IoError:
		status = http.StatusInternalServerError
	}

	switch r := resp.(type) {
	case api.PutPageResponse:
		r.Status = "error"
		r.Error = err.Error()
		writeJSON(w, status, r)
	case api.GetPageResponse:
		r.Status = "error"
		r.Error = err.Error()
		writeJSON(w, status, r)
	case api.DurabilityResponse:
		r.Status = "error"
		r.Error = err.Error()
		writeJSON(w, status, r)
	case api.CoolResponse:
		r.Status = "error"
		r.Error = err.Error()
		writeJSON(w, status, r)
	}
}
