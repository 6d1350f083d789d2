package handler

import (
	"net/http"
	"strconv"

	"github.com/itchan-dev/threadsync/backend/internal/service"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	mw "github.com/itchan-dev/threadsync/shared/middleware"
)

// Realtime upgrades a request to a room subscription connection.
type Realtime interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

type Handler struct {
	discussion service.DiscussionService
	reply      service.ReplyService
	realtime   Realtime
	cfg        *config.Config
}

func New(discussion service.DiscussionService, reply service.ReplyService, realtime Realtime, cfg *config.Config) *Handler {
	return &Handler{discussion, reply, realtime, cfg}
}

// Realtime serves the websocket endpoint.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	h.realtime.ServeWS(w, r)
}

// Health is a liveness probe endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func currentUser(r *http.Request) (domain.User, bool) {
	user := mw.GetUserFromContext(r)
	if user == nil {
		return domain.User{}, false
	}
	return *user, true
}

// parseIntQuery reads an optional non-negative integer query parameter.
func parseIntQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0, &internal_errors.ValidationError{Field: name, Message: "must be a non-negative integer"}
	}
	return val, nil
}
