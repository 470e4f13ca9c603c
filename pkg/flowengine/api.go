package flowengine

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sudorandom/packet-stream/pkg/flow"
)

// APIHandler serves the viewer's current records and animation state.
type APIHandler struct {
	session *flow.Session
	hub     *FrameHub
}

type statsResponse struct {
	Records     int       `json:"records"`
	Moving      int       `json:"moving"`
	Arrived     int       `json:"arrived"`
	Cycle       uint64    `json:"cycle"`
	Polls       int       `json:"polls"`
	Failures    int       `json:"failures"`
	LastPoll    time.Time `json:"last_poll"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Subscribers int       `json:"subscribers"`
}

// NewRouter wires the viewer API. hub may be nil, in which case no
// websocket route is registered.
func NewRouter(session *flow.Session, hub *FrameHub) *mux.Router {
	h := &APIHandler{session: session, hub: hub}
	r := mux.NewRouter()
	r.HandleFunc("/api/flows", h.flowsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/frame", h.frameHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", h.statsHandler).Methods(http.MethodGet)
	if hub != nil {
		r.Handle("/ws/frames", hub)
	}
	return r
}

func (h *APIHandler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	records := h.session.Store().Snapshot()
	if records == nil {
		records = []flow.FlowRecord{}
	}
	writeJSON(w, records)
}

func (h *APIHandler) frameHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.session.Animator().Frame())
}

func (h *APIHandler) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := h.session.Stats()
	moving, arrived := h.session.Animator().Counts()
	resp := statsResponse{
		Records:     h.session.Store().Len(),
		Moving:      moving,
		Arrived:     arrived,
		Cycle:       h.session.Store().Cycle(),
		Polls:       stats.Polls,
		Failures:    stats.Failures,
		LastPoll:    stats.LastPoll,
		LastSuccess: stats.LastSuccess,
		LastError:   stats.LastError,
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Clients()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}
