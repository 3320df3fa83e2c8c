package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{URL: srv.URL, ContentOrg: "HFP", SubmissionOrg: "HFP-2024"})
}

func TestFetchAssignment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("assignmentId") != "recht-1" || q.Get("org") != "HFP" || q.Get("variant") != "b" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"assignmentTitle": "Vertragsrecht",
			"subAssignments": {
				"teil1": {"title": "Teil 1", "type": "quill", "questions": [{"text": "Was ist ein Vertrag?"}]}
			}
		}`))
	})

	a, err := client.FetchAssignment(context.Background(), "recht-1", "b")
	if err != nil {
		t.Fatalf("FetchAssignment: %v", err)
	}
	if a.ID != "recht-1" || a.Title != "Vertragsrecht" {
		t.Fatalf("assignment = %+v", a)
	}
	sub := a.SubAssignments["teil1"]
	if sub.ID != "teil1" || sub.Type != "quill" || len(sub.Questions) != 1 {
		t.Fatalf("sub-assignment = %+v", sub)
	}
}

func TestFetchAssignmentOmitsEmptyVariant(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["variant"]; ok {
			t.Errorf("variant sent without being requested: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"assignmentTitle": "x", "subAssignments": {}}`))
	})
	if _, err := client.FetchAssignment(context.Background(), "a", ""); err != nil {
		t.Fatalf("FetchAssignment: %v", err)
	}
}

func TestFetchAssignmentErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantRemote bool
	}{
		{name: "server reported", status: http.StatusOK, body: `{"status":"error","message":"Aufgabe nicht gefunden"}`, wantRemote: true},
		{name: "http status", status: http.StatusBadGateway, body: `oops`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.FetchAssignment(context.Background(), "a", "")
			var remoteErr *RemoteError
			var transportErr *TransportError
			if tt.wantRemote {
				if !errors.As(err, &remoteErr) || remoteErr.Message != "Aufgabe nicht gefunden" {
					t.Fatalf("err = %v, want RemoteError", err)
				}
				return
			}
			if !errors.As(err, &transportErr) {
				t.Fatalf("err = %v, want TransportError", err)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})

	payload := map[string]any{"createdAt": "2024-05-01T08:00:00Z"}
	if err := client.Submit(context.Background(), "10b_Max", payload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got["action"] != "submit" || got["identifier"] != "10b_Max" || got["org"] != "HFP-2024" {
		t.Fatalf("body = %v", got)
	}
	if inner, _ := got["payload"].(map[string]any); inner["createdAt"] != "2024-05-01T08:00:00Z" {
		t.Fatalf("payload = %v", got["payload"])
	}
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "server message", status: http.StatusOK, body: `{"status":"error","message":"Speicher voll"}`, message: "Speicher voll"},
		{name: "generic", status: http.StatusInternalServerError, body: `{}`, message: unknownServerError},
		{name: "ok status but not success", status: http.StatusOK, body: `{"status":"pending"}`, message: unknownServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			err := client.Submit(context.Background(), "x", nil)
			var remoteErr *RemoteError
			if !errors.As(err, &remoteErr) || remoteErr.Message != tt.message {
				t.Fatalf("err = %v, want message %q", err, tt.message)
			}
		})
	}
}

func TestVerifySolutionKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["action"] != "verifySolutionKey" || req["assignmentId"] != "a1" || req["org"] != "HFP" {
			t.Errorf("request = %v", req)
		}
		valid := req["key"] == "richtig"
		_ = json.NewEncoder(w).Encode(map[string]bool{"isValid": valid})
	})

	ok, err := client.VerifySolutionKey(context.Background(), "a1", "richtig")
	if err != nil || !ok {
		t.Fatalf("VerifySolutionKey(richtig) = %v, %v", ok, err)
	}
	ok, err = client.VerifySolutionKey(context.Background(), "a1", "falsch")
	if err != nil || ok {
		t.Fatalf("VerifySolutionKey(falsch) = %v, %v", ok, err)
	}
}

func TestNotConfigured(t *testing.T) {
	for _, endpoint := range []string{"", "  ", "https://example.test/" + PlaceholderURL} {
		client := New(Options{URL: endpoint})
		if client.Configured() {
			t.Errorf("Configured(%q) = true", endpoint)
		}
		if _, err := client.FetchAssignment(context.Background(), "a", ""); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("FetchAssignment err = %v", err)
		}
		if err := client.Submit(context.Background(), "x", nil); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("Submit err = %v", err)
		}
		if _, err := client.VerifySolutionKey(context.Background(), "a", "k"); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("VerifySolutionKey err = %v", err)
		}
	}
}
