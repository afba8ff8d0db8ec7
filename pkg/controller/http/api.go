package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/usecase"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
	"github.com/secmon-lab/mentionist/pkg/utils/safe"
)

type workspaceResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

type userResponse struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Label       string `json:"label"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:          string(u.ID),
		ExternalID:  u.ExternalID,
		Name:        u.Name,
		DisplayName: u.DisplayName,
		FullName:    u.FullName,
		AvatarURL:   u.AvatarURL,
		Label:       u.Label(string(u.ID)),
		Placeholder: u.IsPlaceholder(),
	}
}

type annotateRequest struct {
	Text string `json:"text"`
}

// statusOf maps domain errors onto HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidUserID):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "failed to marshal response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(r.Context(), w, data)
}

// workspacesHandler serves the workspace list as JSON
func (s *Server) workspacesHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Workspaces []workspaceResponse `json:"workspaces"`
	}

	workspaces := s.mention.Workspaces()
	resp := response{
		Workspaces: make([]workspaceResponse, len(workspaces)),
	}
	for i, ws := range workspaces {
		resp.Workspaces[i] = workspaceResponse{
			ID:       ws.ID,
			Name:     ws.Name,
			Provider: string(ws.Provider),
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// userHandler resolves one user. 202 Accepted is returned while the lookup is in flight.
func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		User  *userResponse    `json:"user,omitempty"`
		State model.CacheState `json:"state"`
	}

	workspaceID := chi.URLParam(r, "workspaceID")
	userID := chi.URLParam(r, "userID")

	user, state, err := s.mention.ResolveUser(r.Context(), workspaceID, userID)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
		return
	}

	status := http.StatusOK
	if user == nil {
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, response{User: toUserResponse(user), State: state})
}

// annotateHandler resolves the mentions of a message and returns its segments
func (s *Server) annotateHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	var req annotateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodySize)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "request body too large"), http.StatusRequestEntityTooLarge)
			return
		}
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	msg, err := s.mention.AnnotateMessage(r.Context(), workspaceID, req.Text)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
		return
	}

	writeJSON(w, r, http.StatusOK, msg)
}
