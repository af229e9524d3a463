package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleSellerEvents — GET /api/v1/sellers/{sellerID}/events.
// Постоянное SSE-соединение: сервер шлёт order-updated по каждому
// изменению заказов продавца. Подписка авторизуется по принципалу,
// чужая комната недоступна. Канал best-effort: после переподключения
// клиент перечитывает состояние через REST.
func (s *Server) handleSellerEvents(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerID")
	principal := strings.TrimSpace(r.Header.Get(HeaderSellerID))

	sub, err := s.hub.Subscribe(sellerID, principal)
	if err != nil {
		writeJSON(w, http.StatusForbidden, errorResponse{ErrorKind: "Forbidden", Message: "seller may subscribe only to own room"})
		return
	}
	defer s.hub.Unsubscribe(sellerID, sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorKind: "Internal", Message: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	logger := s.logger.WithField("seller_id", sellerID)
	logger.Debug("sse session started")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("sse session closed by client")
			return

		case event, open := <-sub.Events():
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				logger.WithError(err).Warn("marshal sse event failed")
				continue
			}
			fmt.Fprintf(w, "event: order-updated\ndata: %s\n\n", payload)
			flusher.Flush()

		case <-heartbeat.C:
			// Комментарий-heartbeat удерживает соединение через прокси.
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
