package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"quillsync/internal/presence"
)

// handleWebsocket attaches a websocket client to the document's pub/sub
// channel and relays payloads in both directions. The relay is payload
// agnostic: envelope semantics live with the clients.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	if _, err := s.docs.Ensure(r.Context(), docID); err != nil {
		s.logger.Error("document bootstrap failed", map[string]interface{}{
			"documentId": docID,
			"error":      err.Error(),
		})
		return
	}

	// The subscription outlives the request context; it ends when the
	// client disconnects.
	sub, err := s.transport.Subscribe(context.Background(), presence.ChannelName(docID))
	if err != nil {
		s.logger.Error("channel subscribe failed", map[string]interface{}{
			"documentId": docID,
			"error":      err.Error(),
		})
		return
	}
	defer sub.Close()

	s.retainSnapshots(docID)
	defer s.releaseSnapshots(docID)

	s.logger.Info("websocket client joined", map[string]interface{}{"documentId": docID})

	// Forward channel events to the websocket client.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for payload := range sub.Events() {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("websocket write failed", map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}()

	// Publish client messages to the channel.
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("websocket client left", map[string]interface{}{"documentId": docID})
			break
		}
		if err := sub.Send(context.Background(), payload); err != nil {
			s.logger.Warn("channel publish failed", map[string]interface{}{"error": err.Error()})
		}
	}

	sub.Close()
	<-writeDone
}
