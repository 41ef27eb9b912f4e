package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
)

func register(t *testing.T, env *testEnv, username, role string) string {
	t.Helper()

	body := fmt.Sprintf(`{"username":%q,"password":"password123","display_name":%q,"role":%q}`, username, username, role)
	rec := doRequest(t, env, "POST", "/api/register", "", body)
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("register %s: status %d: %s", username, rec.Code, rec.Body.String())
	}

	var resp AuthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return resp.Token
}

func doRequest(t *testing.T, env *testEnv, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func openConversation(t *testing.T, env *testEnv, doctorToken string, patientID int64) ConversationResponse {
	t.Helper()

	rec := doRequest(t, env, "GET", fmt.Sprintf("/api/chat/with-patient/%d", patientID), doctorToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("open conversation: status %d: %s", rec.Code, rec.Body.String())
	}
	var conv ConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return conv
}

func TestChatEndpoints_RequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/chat", "/api/users/doctors"} {
		rec := doRequest(t, env, "GET", path, "", "")
		if rec.Code != stdhttp.StatusUnauthorized {
			t.Errorf("%s without token: status %d, want 401", path, rec.Code)
		}
	}
}

func TestOpenWithPatient_RoleGate(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	register(t, env, "doc", "doctor")

	rec := doRequest(t, env, "GET", "/api/chat/with-patient/1", patientToken, "")
	if rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("patient opening with-patient: status %d, want 403", rec.Code)
	}
}

func TestOpenWithPatient_UnknownPatient(t *testing.T) {
	env := newTestEnv(t)
	doctorToken := register(t, env, "doc", "doctor")

	rec := doRequest(t, env, "GET", "/api/chat/with-patient/999", doctorToken, "")
	if rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("unknown patient: status %d, want 404", rec.Code)
	}
}

func TestSendAndListMessages(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}

	conv := openConversation(t, env, doctorToken, patient.ID)

	rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", patientToken, `{"content":"Hello"}`)
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("send: status %d: %s", rec.Code, rec.Body.String())
	}
	var sent MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if sent.Content != "Hello" || sent.Read {
		t.Fatalf("unexpected message: %+v", sent)
	}

	rec = doRequest(t, env, "GET", "/api/chat/"+conv.ID+"/messages", doctorToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("list: status %d: %s", rec.Code, rec.Body.String())
	}
	var messages []MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != sent.ID {
		t.Fatalf("unexpected list: %+v", messages)
	}
}

func TestListMessages_RejectsMalformedQuery(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	conv := openConversation(t, env, doctorToken, patient.ID)

	for _, msg := range []string{"one", "two"} {
		rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", patientToken, `{"content":"`+msg+`"}`)
		if rec.Code != stdhttp.StatusCreated {
			t.Fatalf("send %q: status %d", msg, rec.Code)
		}
	}

	for _, query := range []string{"?after=abc", "?limit=abc"} {
		rec := doRequest(t, env, "GET", "/api/chat/"+conv.ID+"/messages"+query, doctorToken, "")
		if rec.Code != stdhttp.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", query, rec.Code)
		}
	}

	rec := doRequest(t, env, "GET", "/api/chat/"+conv.ID+"/messages?limit=1", doctorToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("limit=1: status %d", rec.Code)
	}
	var messages []MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "one" {
		t.Fatalf("unexpected page: %+v", messages)
	}
}

func TestSendMessage_EmptyContent(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	conv := openConversation(t, env, doctorToken, patient.ID)

	// Whitespace-only survives gin's required binding but fails validation.
	rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", patientToken, `{"content":"   "}`)
	if rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("whitespace content: status %d, want 400", rec.Code)
	}

	rec = doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", patientToken, `{"content":""}`)
	if rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("empty content: status %d, want 400", rec.Code)
	}
}

func TestSendMessage_OutsiderForbidden(t *testing.T) {
	env := newTestEnv(t)
	register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")
	outsiderToken := register(t, env, "eve", "patient")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	conv := openConversation(t, env, doctorToken, patient.ID)

	rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", outsiderToken, `{"content":"hi"}`)
	if rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("outsider send: status %d, want 403", rec.Code)
	}

	rec = doRequest(t, env, "GET", "/api/chat/"+conv.ID+"/messages", outsiderToken, "")
	if rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("outsider list: status %d, want 403", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	conv := openConversation(t, env, doctorToken, patient.ID)

	rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", doctorToken, `{"content":"Hi"}`)
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("send: status %d", rec.Code)
	}

	rec = doRequest(t, env, "PUT", "/api/chat/"+conv.ID+"/read", patientToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("mark read: status %d: %s", rec.Code, rec.Body.String())
	}
	var ack MarkReadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Marked != 1 {
		t.Fatalf("expected 1 marked, got %d", ack.Marked)
	}
}

func TestListConversations_UnreadSummaries(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	patient, err := env.store.GetUserByUsername(context.Background(), "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	conv := openConversation(t, env, doctorToken, patient.ID)

	rec := doRequest(t, env, "POST", "/api/chat/"+conv.ID+"/messages", patientToken, `{"content":"Hello"}`)
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("send: status %d", rec.Code)
	}

	rec = doRequest(t, env, "GET", "/api/chat", doctorToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("list conversations: status %d", rec.Code)
	}
	var summaries []ConversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Unread != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

func TestListPatients_DoctorOnly(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	doctorToken := register(t, env, "doc", "doctor")

	rec := doRequest(t, env, "GET", "/api/users/patients", patientToken, "")
	if rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("patient listing patients: status %d, want 403", rec.Code)
	}

	rec = doRequest(t, env, "GET", "/api/users/patients", doctorToken, "")
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("doctor listing patients: status %d", rec.Code)
	}
	var users []UserResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if len(users) != 1 || users[0].DisplayName != "pat" {
		t.Fatalf("unexpected patients: %+v", users)
	}
}
