package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/NickCoder1309/nexMeet-chat/internal/backend"
	"github.com/NickCoder1309/nexMeet-chat/internal/metrics"
	"github.com/NickCoder1309/nexMeet-chat/internal/models"
	"github.com/NickCoder1309/nexMeet-chat/internal/registry"
	"github.com/NickCoder1309/nexMeet-chat/internal/session"
)

// PresenceHandler serves live meeting snapshots out of the registry. The
// roster reflects who is connected to this relay right now, not the meeting
// service's durable membership.
type PresenceHandler struct {
	Registry *registry.Registry
	Backend  *backend.Client
}

func (h *PresenceHandler) MeetingOnline(w http.ResponseWriter, r *http.Request) {
	meetID := r.PathValue("id")
	if meetID == "" {
		writeJSONError(w, "Meeting ID required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	users := h.Registry.Snapshot(meetID)
	if users == nil {
		users = []models.Participant{}
	}

	response := map[string]interface{}{
		"meetId": meetID,
		"users":  users,
	}

	// The meeting name lives in the meeting service; fetching it is an
	// enrichment and its failure does not fail the snapshot.
	if h.Backend != nil {
		meeting, err := h.Backend.GetMeeting(r.Context(), meetID, bearerToken(r))
		metrics.ObserveBackend(backend.OpGetMeeting, err)
		if err != nil {
			slog.Debug("Meeting lookup failed for presence snapshot", "meet_id", meetID, "error", err)
		} else if meeting.Name != "" {
			response["name"] = meeting.Name
		}
	}

	requestedBy := "anonymous"
	if id, ok := session.IdentityFromContext(r.Context()); ok {
		requestedBy = id.UserID
	}
	slog.Debug("Presence snapshot served", "meet_id", meetID, "online", len(users), "requested_by", requestedBy)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func writeJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
