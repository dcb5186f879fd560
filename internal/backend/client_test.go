package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NickCoder1309/nexMeet-chat/internal/models"
)

func TestUpsertMeetingUserSendsPutAndDecodesRoster(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotBody models.Participant

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode([]models.Participant{
			{UserID: "u1", SocketID: "c1"},
			{UserID: "u2", SocketID: "c2"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	users, err := c.UpsertMeetingUser(context.Background(), "meet-1", models.Participant{UserID: "u2", SocketID: "c2"}, "tok-123")
	if err != nil {
		t.Fatalf("UpsertMeetingUser: %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/meetings/updateOrAddMeetingUser/meet-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody.UserID != "u2" || gotBody.SocketID != "c2" {
		t.Errorf("request body = %+v", gotBody)
	}
	if len(users) != 2 || users[0].UserID != "u1" || users[1].UserID != "u2" {
		t.Errorf("roster = %+v", users)
	}
}

func TestRemoveMeetingUserSendsIdentityPair(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody struct {
		UserID   string `json:"userId"`
		SocketID string `json:"socketId"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		json.NewEncoder(w).Encode([]models.Participant{{UserID: "u2", SocketID: "c2"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	users, err := c.RemoveMeetingUser(context.Background(), "meet-1", "u1", "c1", "")
	if err != nil {
		t.Fatalf("RemoveMeetingUser: %v", err)
	}

	if gotMethod != http.MethodPut || gotPath != "/meetings/removeUser/meet-1" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotBody.UserID != "u1" || gotBody.SocketID != "c1" {
		t.Errorf("request body = %+v", gotBody)
	}
	if len(users) != 1 || users[0].UserID != "u2" {
		t.Errorf("roster = %+v", users)
	}
}

func TestRemoveMeetingUserOmitsAuthorizationWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.RemoveMeetingUser(context.Background(), "meet-1", "u1", "c1", ""); err != nil {
		t.Fatalf("RemoveMeetingUser: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want empty", gotAuth)
	}
}

func TestGetMeetingDecodesMeeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/meets/meet-7" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.Meeting{
			MeetID: "meet-7",
			Name:   "standup",
			Users:  []models.Participant{{UserID: "u1", SocketID: "c1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	meeting, err := c.GetMeeting(context.Background(), "meet-7", "tok")
	if err != nil {
		t.Fatalf("GetMeeting: %v", err)
	}
	if meeting.MeetID != "meet-7" || meeting.Name != "standup" || len(meeting.Users) != 1 {
		t.Errorf("meeting = %+v", meeting)
	}
}

func TestGetMeetingUsersDecodesRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/meets/getMeetingUsers/meet-7" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`[{"userId":"u1","socketId":"c1"},{"userId":"u2","socketId":"c2"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	users, err := c.GetMeetingUsers(context.Background(), "meet-7", "tok")
	if err != nil {
		t.Fatalf("GetMeetingUsers: %v", err)
	}
	if len(users) != 2 || users[0].UserID != "u1" || users[1].SocketID != "c2" {
		t.Errorf("roster = %+v", users)
	}
}

func TestErrorPayloadBecomesTypedError(t *testing.T) {
	// The meeting service reports some failures with a 200 status and an
	// error body. The client must not mistake that for a roster.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"meeting not found"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMeetingUsers(context.Background(), "missing", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("error type = %T", err)
	}
	if be.Op != OpGetMeetingUsers {
		t.Errorf("Op = %q", be.Op)
	}
	if be.Message != "meeting not found" {
		t.Errorf("Message = %q", be.Message)
	}
	if be.Status != http.StatusOK {
		t.Errorf("Status = %d", be.Status)
	}
}

func TestNonSuccessStatusBecomesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.UpsertMeetingUser(context.Background(), "meet-1", models.Participant{UserID: "u1"}, "")
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("error = %v", err)
	}
	if be.Op != OpUpsertMeetingUser || be.Status != http.StatusBadGateway {
		t.Errorf("error = %+v", be)
	}
}

func TestTransportFailureBecomesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetMeeting(context.Background(), "meet-1", "")
	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("error = %v", err)
	}
	if be.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", be.Status)
	}
}

func TestCancelledContextAbortsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL)
	if _, err := c.GetMeetingUsers(ctx, "meet-1", ""); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
