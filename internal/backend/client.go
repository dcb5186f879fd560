// Package backend talks to the nexMeet meeting service, the system of record
// for meeting membership. The relay never stores membership durably; it
// forwards mutations here and mirrors the responses.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/NickCoder1309/nexMeet-chat/internal/models"
)

// Backend operation names. They double as the origin tag on
// socketServerError events so clients can tell which step failed.
const (
	OpUpsertMeetingUser = "updateOrAddMeetingUser"
	OpRemoveMeetingUser = "removeUser"
	OpGetMeeting        = "getMeeting"
	OpGetMeetingUsers   = "getMeetingUsers"
)

// Error is the typed failure of one backend call: either the service's
// {"error": "..."} payload or a transport/decode failure (Status 0).
type Error struct {
	Op      string
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Message)
}

const requestTimeout = 5 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type removeUserRequest struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// UpsertMeetingUser adds or updates the participant entry for
// (meetID, p.UserID) and returns the updated roster.
func (c *Client) UpsertMeetingUser(ctx context.Context, meetID string, p models.Participant, token string) ([]models.Participant, error) {
	var users []models.Participant
	path := "/meetings/updateOrAddMeetingUser/" + url.PathEscape(meetID)
	if err := c.doJSON(ctx, OpUpsertMeetingUser, http.MethodPut, path, token, p, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// RemoveMeetingUser removes the participant entry for (meetID, userID) and
// returns the remaining roster.
func (c *Client) RemoveMeetingUser(ctx context.Context, meetID, userID, socketID, token string) ([]models.Participant, error) {
	var users []models.Participant
	path := "/meetings/removeUser/" + url.PathEscape(meetID)
	body := removeUserRequest{UserID: userID, SocketID: socketID}
	if err := c.doJSON(ctx, OpRemoveMeetingUser, http.MethodPut, path, token, body, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) GetMeeting(ctx context.Context, meetID, token string) (*models.Meeting, error) {
	var meeting models.Meeting
	path := "/meets/" + url.PathEscape(meetID)
	if err := c.doJSON(ctx, OpGetMeeting, http.MethodGet, path, token, nil, &meeting); err != nil {
		return nil, err
	}
	return &meeting, nil
}

func (c *Client) GetMeetingUsers(ctx context.Context, meetID, token string) ([]models.Participant, error) {
	var users []models.Participant
	path := "/meets/getMeetingUsers/" + url.PathEscape(meetID)
	if err := c.doJSON(ctx, OpGetMeetingUsers, http.MethodGet, path, token, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// doJSON performs one backend round trip. The service replies with either
// the domain payload or {"error": "..."} (sometimes with a 200 status), so
// the body is sniffed for the error shape before decoding into out.
func (c *Client) doJSON(ctx context.Context, op, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return &Error{Op: op, Message: err.Error()}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: op, Message: err.Error(), Status: resp.StatusCode}
	}

	var errPayload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &errPayload); err == nil && errPayload.Error != "" {
		return &Error{Op: op, Message: errPayload.Error, Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: op, Message: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Op: op, Message: fmt.Sprintf("decoding response: %v", err), Status: resp.StatusCode}
		}
	}
	return nil
}
