package did

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusCreated, false},
		{StatusStarted, false},
		{StatusDone, true},
		{StatusError, true},
		{StatusRejected, true},
		{Status("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	_, err := NewClient("")
	if !errors.Is(err, ErrCredentialsRequired) {
		t.Errorf("expected ErrCredentialsRequired, got %v", err)
	}
}

func TestCreateTalk_Success(t *testing.T) {
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/talks" {
			t.Errorf("expected /talks, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != wantAuth {
			t.Errorf("unexpected Authorization header: %s", r.Header.Get("Authorization"))
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if req.Script.Input != "good morning" {
			t.Errorf("expected script 'good morning', got %q", req.Script.Input)
		}
		if req.Script.Provider == nil || req.Script.Provider.VoiceID != "en-US-JennyNeural" {
			t.Error("expected default voice en-US-JennyNeural")
		}
		if req.SourceURL == "" {
			t.Error("expected a default source_url")
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(talkResponse{ID: "tlk-1", Status: "created"})
	}))
	defer server.Close()

	client, _ := NewClient("user:pass", WithBaseURL(server.URL))

	talkID, err := client.CreateTalk(context.Background(), CreateTalkInput{Script: "good morning"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if talkID != "tlk-1" {
		t.Errorf("expected tlk-1, got %s", talkID)
	}
}

func TestCreateTalk_NoTalkID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(talkResponse{})
	}))
	defer server.Close()

	client, _ := NewClient("user:pass", WithBaseURL(server.URL))

	_, err := client.CreateTalk(context.Background(), CreateTalkInput{Script: "hi"})
	if !errors.Is(err, ErrNoTalkIDReturned) {
		t.Errorf("expected ErrNoTalkIDReturned, got %v", err)
	}
}

func TestGetTalk_AllStatuses(t *testing.T) {
	tests := []struct {
		name           string
		response       talkResponse
		expectedStatus Status
		expectedURL    string
		expectedError  string
	}{
		{
			name:           "created",
			response:       talkResponse{ID: "tlk-1", Status: "created"},
			expectedStatus: StatusCreated,
		},
		{
			name:           "started",
			response:       talkResponse{ID: "tlk-1", Status: "started"},
			expectedStatus: StatusStarted,
		},
		{
			name: "done",
			response: talkResponse{
				ID:        "tlk-1",
				Status:    "done",
				ResultURL: "https://d-id-talks.test/tlk-1.mp4",
				Duration:  12.4,
			},
			expectedStatus: StatusDone,
			expectedURL:    "https://d-id-talks.test/tlk-1.mp4",
		},
		{
			name: "error",
			response: talkResponse{
				ID:     "tlk-1",
				Status: "error",
				Error:  &talkError{Kind: "TextToSpeechProviderError", Description: "voice unavailable"},
			},
			expectedStatus: StatusError,
			expectedError:  "voice unavailable",
		},
		{
			name: "rejected",
			response: talkResponse{
				ID:     "tlk-1",
				Status: "rejected",
				Error:  &talkError{Kind: "CelebrityRecognizedError"},
			},
			expectedStatus: StatusRejected,
			expectedError:  "CelebrityRecognizedError",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/talks/tlk-1" {
					t.Errorf("expected /talks/tlk-1, got %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client, _ := NewClient("user:pass", WithBaseURL(server.URL))

			talk, err := client.GetTalk(context.Background(), "tlk-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if talk.Status != tt.expectedStatus {
				t.Errorf("expected status %v, got %v", tt.expectedStatus, talk.Status)
			}
			if talk.ResultURL != tt.expectedURL {
				t.Errorf("expected url %q, got %q", tt.expectedURL, talk.ResultURL)
			}
			if talk.Error != tt.expectedError {
				t.Errorf("expected error %q, got %q", tt.expectedError, talk.Error)
			}
		})
	}
}

func TestGetTalk_EmptyID(t *testing.T) {
	client, _ := NewClient("user:pass")

	_, err := client.GetTalk(context.Background(), "")
	if !errors.Is(err, ErrTalkIDRequired) {
		t.Errorf("expected ErrTalkIDRequired, got %v", err)
	}
}

func TestDeleteTalk(t *testing.T) {
	var gotMethod, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := NewClient("user:pass", WithBaseURL(server.URL))

	if err := client.DeleteTalk(context.Background(), "tlk-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("expected DELETE, got %s", gotMethod)
	}
	if gotPath != "/talks/tlk-9" {
		t.Errorf("expected /talks/tlk-9, got %s", gotPath)
	}
}

func TestDoRequest_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"payment required", http.StatusPaymentRequired, ErrInsufficientCredits},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"bad request", http.StatusBadRequest, ErrRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			client, _ := NewClient("user:pass", WithBaseURL(server.URL))

			_, err := client.GetTalk(context.Background(), "tlk-1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
