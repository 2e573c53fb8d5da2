package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/npezzotti/kite-relay/internal/database"
	"github.com/npezzotti/kite-relay/internal/types"
)

// ChannelResponse is the public view of a channel used by the widget
// before joining.
type ChannelResponse struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

func (s *KiteApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "error", err)
	}
}

func (s *KiteApp) writeError(w http.ResponseWriter, err error) {
	errResp := FromError(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *KiteApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *KiteApp) getChannel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := types.ValidateChannelName(name); err != nil {
		s.writeError(w, err)
		return
	}

	channel, err := s.db.GetChannel(r.Context(), name)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeJson(w, http.StatusNotFound, NewNotFoundError())
			return
		}
		s.writeError(w, err)
		return
	}

	online := false
	host, err := s.db.GetMember(r.Context(), channel.HostMemberId())
	switch {
	case err == nil:
		online = host.Online()
	case !errors.Is(err, database.ErrNotFound):
		s.writeError(w, err)
		return
	}

	s.writeJson(w, http.StatusOK, ChannelResponse{Name: channel.Name, Online: online})
}
