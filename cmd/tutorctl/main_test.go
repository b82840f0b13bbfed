package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/felipepmaragno/tutor-gateway/internal/api"
	"github.com/felipepmaragno/tutor-gateway/internal/tutor"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
		wantErr bool
	}{
		{"chat", []string{"chat", "--subject", "algebra", "--tier", "pro"}, "chat", false},
		{"chat without subject", []string{"chat"}, "", true},
		{"chat bad tier", []string{"chat", "--subject", "x", "--tier", "gold"}, "", true},
		{"lesson", []string{"lesson", "--slides", "3", "tides"}, "lesson", false},
		{"lesson without topic", []string{"lesson"}, "", true},
		{"models", []string{"--addr", "http://gw:9000", "models"}, "models", false},
		{"seal keys", []string{"seal-keys", "--passphrase", "p", "k1,k2"}, "seal-keys", false},
		{"hash token", []string{"hash-token"}, "hash-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli CLI
			parser, err := kong.New(&cli, kong.Vars{"version": version})
			if err != nil {
				t.Fatalf("kong.New() error = %v", err)
			}
			ctx, err := parser.Parse(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Error("Parse() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got := ctx.Selected().Name; got != tt.command {
				t.Errorf("selected command = %q, want %q", got, tt.command)
			}
		})
	}
}

func TestTurnRequest(t *testing.T) {
	req, err := turnRequest("what is 2+2?")
	if err != nil || req.Message != "what is 2+2?" || req.Image != "" {
		t.Errorf("turnRequest(text) = %+v, %v", req, err)
	}

	path := filepath.Join(t.TempDir(), "img.png")
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	req, err = turnRequest("/image " + path + " what is this?")
	if err != nil {
		t.Fatalf("turnRequest(image) error = %v", err)
	}
	if req.Message != "what is this?" || req.Image == "" {
		t.Errorf("turnRequest(image) = %+v", req)
	}

	if _, err := turnRequest("/image /does/not/exist"); err == nil {
		t.Error("turnRequest(missing image) error = nil")
	}
}

func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.CreateSessionResponse{ID: "s1", Tier: "free", Opening: "Welcome!"})
	})
	mux.HandleFunc("POST /v1/sessions/s1/turns", func(w http.ResponseWriter, r *http.Request) {
		var req api.TurnRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Message == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"message":"all keys and models exhausted","type":"exhausted","code":502}}`))
			return
		}
		json.NewEncoder(w).Encode(api.TurnResponse{Response: "echo: " + req.Message, Model: "m1", Attempts: 2})
	})
	mux.HandleFunc("DELETE /v1/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/lessons", func(w http.ResponseWriter, r *http.Request) {
		var req api.LessonRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(api.LessonResponse{
			Name:  "Tides",
			Model: "m1",
			Slides: []tutor.Slide{
				{Title: "What moves the sea", Lead: "The moon pulls on " + req.Topic + "."},
				{Title: "Spring tides", Bullets: []string{"Sun and moon align"}, Image: "full moon"},
			},
		})
	})
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []api.RosterResponse{
			{Name: "free", Models: []string{"a", "b"}, Current: "a"},
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestChatCmd(t *testing.T) {
	srv := fakeGateway(t)

	var out bytes.Buffer
	cmd := &ChatCmd{
		Subject: "algebra",
		Open:    true,
		in:      strings.NewReader("hello\n\nfail\n/quit\nignored\n"),
		out:     &out,
	}
	if err := cmd.Run(&Globals{Addr: srv.URL}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"session s1", "tutor> Welcome!", "tutor> echo: hello", "exhausted (HTTP 502)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Error("input after /quit was sent")
	}
}

func TestModelsCmd(t *testing.T) {
	srv := fakeGateway(t)

	var out bytes.Buffer
	if err := (&ModelsCmd{out: &out}).Run(&Globals{Addr: srv.URL}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(out.String(), "free") || !strings.Contains(out.String(), "ROSTER") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLessonCmd(t *testing.T) {
	srv := fakeGateway(t)

	var out bytes.Buffer
	if err := (&LessonCmd{Topic: "oceans", Slides: 2, out: &out}).Run(&Globals{Addr: srv.URL}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"Tides (2 slides, m1)", "1. What moves the sea", "The moon pulls on oceans.", "   - Sun and moon align", "[image: full moon]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
