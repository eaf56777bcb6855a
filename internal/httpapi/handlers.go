package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/runtimelab/lam/contracts"
	"github.com/runtimelab/lam/internal/localactivity"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB is
// ample for a schedule record's headers and input payload).
const maxRequestBodySize = 1 * 1024 * 1024

// Handlers contains the HTTP handler methods for the API.
type Handlers struct {
	manager *localactivity.Manager
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *localactivity.Manager) *Handlers {
	return &Handlers{manager: manager}
}

// HandleEnqueue handles POST /api/v1/activities.
func (h *Handlers) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req EnqueueRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, fmt.Errorf("invalid JSON: %w", contracts.ErrInvalidInput))
		return
	}
	if req.RunID == "" || req.ActivityType == "" {
		writeError(w, fmt.Errorf("run_id and activity_type are required: %w", contracts.ErrInvalidInput))
		return
	}

	res, immediate := h.manager.Enqueue(req.toRecord())
	resp := EnqueueResponse{Queued: !immediate}
	if immediate {
		dto := toResolutionDTO(res)
		resp.Resolution = &dto
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleCancel handles POST /api/v1/activities/{run_id}/{seq_num}/cancel.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := parseLAID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, immediate := h.manager.Cancel(id)
	resp := CancelResponse{Resolved: immediate}
	if immediate {
		dto := toResolutionDTO(res)
		resp.Resolution = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Outstanding: h.manager.NumOutstanding(),
		Admitted:    h.manager.NumAdmitted(),
	})
}

func readBody(r *http.Request) ([]byte, error) {
	limited := io.LimitReader(r.Body, maxRequestBodySize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", contracts.ErrInvalidInput)
	}
	if len(body) > maxRequestBodySize {
		return nil, fmt.Errorf("request body too large (max %d bytes): %w", maxRequestBodySize, contracts.ErrInvalidInput)
	}
	return body, nil
}

func parseLAID(r *http.Request) (contracts.ExecutingLAID, error) {
	runID := r.PathValue("run_id")
	seqStr := r.PathValue("seq_num")
	if runID == "" || seqStr == "" {
		return contracts.ExecutingLAID{}, fmt.Errorf("run_id and seq_num path segments are required: %w", contracts.ErrInvalidInput)
	}
	var seq uint32
	if _, err := fmt.Sscanf(seqStr, "%d", &seq); err != nil {
		return contracts.ExecutingLAID{}, fmt.Errorf("seq_num must be numeric: %w", contracts.ErrInvalidInput)
	}
	return contracts.ExecutingLAID{RunID: contracts.RunID(runID), SeqNum: contracts.SeqNum(seq)}, nil
}
