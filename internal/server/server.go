// Package server exposes the version history surface over HTTP and the
// per-document channel over websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"quillsync/internal/observability"
	"quillsync/internal/store"
	"quillsync/internal/transport"
	"quillsync/internal/version"
)

// Options tunes the server. Zero values take each component's defaults.
type Options struct {
	// Snapshot is the auto-snapshot cadence for documents with attached
	// websocket clients.
	Snapshot version.SchedulerOptions
	Logger   observability.Logger
}

// Server wires the stores, the snapshot gateway and the pub/sub transport
// behind an HTTP router.
type Server struct {
	docs      store.DocumentStore
	gateway   *version.Gateway
	transport transport.Transport
	logger    observability.Logger
	upgrader  websocket.Upgrader
	snapshot  version.SchedulerOptions

	schedMu    sync.Mutex
	schedulers map[string]*docScheduler
}

// New builds a Server.
func New(docs store.DocumentStore, gateway *version.Gateway, tr transport.Transport, opts Options) *Server {
	return &Server{
		docs:      docs,
		gateway:   gateway,
		transport: tr,
		logger:    observability.OrDefault(opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		snapshot:   opts.Snapshot,
		schedulers: make(map[string]*docScheduler),
	}
}

// docScheduler tracks one document's auto-snapshot loop, refcounted by
// attached websocket clients.
type docScheduler struct {
	refs  int
	sched *version.Scheduler
}

// retainSnapshots starts the document's auto-snapshot loop on the first
// attached client. Websocket clients do not run their own scheduler, so
// history capture lives with the relay.
func (s *Server) retainSnapshots(docID string) {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	ds, ok := s.schedulers[docID]
	if !ok {
		content := func() string {
			doc, err := s.docs.Get(context.Background(), docID)
			if err != nil {
				return ""
			}
			return doc.Content
		}
		ds = &docScheduler{
			sched: version.NewScheduler(s.gateway, docID, "server", content, s.snapshot),
		}
		s.schedulers[docID] = ds
		ds.sched.Start()
	}
	ds.refs++
}

// releaseSnapshots stops the loop when the last client detaches.
func (s *Server) releaseSnapshots(docID string) {
	s.schedMu.Lock()
	ds, ok := s.schedulers[docID]
	var stop bool
	if ok {
		ds.refs--
		if ds.refs <= 0 {
			delete(s.schedulers, docID)
			stop = true
		}
	}
	s.schedMu.Unlock()
	if stop {
		ds.sched.Stop()
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}", s.handlePutDocument).Methods(http.MethodPut)
	r.HandleFunc("/api/documents/{id}/versions", s.handleListVersions).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/versions", s.handleSaveVersion).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/restore", s.handleRestore).Methods(http.MethodPost)
	r.HandleFunc("/api/versions/{id}", s.handleGetVersion).Methods(http.MethodGet)
	r.HandleFunc("/api/versions/{id}/label", s.handleUpdateLabel).Methods(http.MethodPatch)
	r.HandleFunc("/api/diff", s.handleDiff).Methods(http.MethodGet)
	r.HandleFunc("/ws/{id}", s.handleWebsocket)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	s.logger.Error("request failed", map[string]interface{}{"error": err.Error()})
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
