package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/tutor-gateway/internal/domain"
)

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *Executor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Options{
		BaseURL:     srv.URL,
		Client:      srv.Client(),
		CallTimeout: 2 * time.Second,
		Temperature: 0.7,
		MaxTokens:   1024,
	})
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func TestExecutor_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		outcome  domain.Outcome
		kind     domain.ErrorKind
		wantText string
	}{
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, domain.OutcomeRetryable, domain.KindRateLimited, ""},
		{"payment required", 402, `{"error":{"message":"credits"}}`, domain.OutcomeRetryable, domain.KindQuotaExceeded, ""},
		{"bad request", 400, `{"error":{"message":"bad"}}`, domain.OutcomeFatal, domain.KindUpstreamRejected, ""},
		{"unauthorized", 401, `{"error":"no auth"}`, domain.OutcomeFatal, domain.KindUpstreamRejected, ""},
		{"server error", 500, `oops`, domain.OutcomeFatal, domain.KindUpstreamRejected, ""},
		{"service unavailable", 503, ``, domain.OutcomeFatal, domain.KindUpstreamRejected, ""},
		{"no choices", 200, `{"choices":[]}`, domain.OutcomeFatal, domain.KindUnexpectedResponseShape, ""},
		{"embedded error", 200, `{"error":{"message":"provider down"}}`, domain.OutcomeFatal, domain.KindUnexpectedResponseShape, ""},
		{"not json", 200, `<html>`, domain.OutcomeFatal, domain.KindUnexpectedResponseShape, ""},
		{"success", 200, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`, domain.OutcomeSuccess, "", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExecutor(t, respond(tt.status, tt.body))

			res := e.Attempt(context.Background(), []domain.Message{domain.NewUserMessage("hi")}, "m", "k")

			if res.Outcome != tt.outcome {
				t.Errorf("Outcome = %v, want %v", res.Outcome, tt.outcome)
			}
			if res.Kind() != tt.kind {
				t.Errorf("Kind = %q, want %q", res.Kind(), tt.kind)
			}
			if res.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
			}
		})
	}
}

func TestExecutor_RejectedCarriesBody(t *testing.T) {
	e := newTestExecutor(t, respond(400, `{"error":{"message":"model not found"}}`))

	res := e.Attempt(context.Background(), nil, "m", "k")
	if res.Err == nil {
		t.Fatal("expected error")
	}
	if res.Err.Status != 400 {
		t.Errorf("Status = %d, want 400", res.Err.Status)
	}
	if !strings.Contains(res.Err.Body, "model not found") {
		t.Errorf("Body = %q, want upstream body", res.Err.Body)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	e := New(Options{BaseURL: srv.URL, Client: srv.Client(), CallTimeout: 50 * time.Millisecond})

	res := e.Attempt(context.Background(), nil, "m", "k")
	if res.Outcome != domain.OutcomeRetryable {
		t.Errorf("Outcome = %v, want retryable", res.Outcome)
	}
	if res.Kind() != domain.KindTimeout {
		t.Errorf("Kind = %q, want timeout", res.Kind())
	}
}

func TestExecutor_TransientNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	e := New(Options{BaseURL: url, CallTimeout: time.Second})

	res := e.Attempt(context.Background(), nil, "m", "k")
	if res.Outcome != domain.OutcomeRetryable {
		t.Errorf("Outcome = %v, want retryable", res.Outcome)
	}
	if res.Kind() != domain.KindTransientNetwork {
		t.Errorf("Kind = %q, want transient_network", res.Kind())
	}
}

func TestExecutor_RequestShape(t *testing.T) {
	var got struct {
		Model       string           `json:"model"`
		Messages    []domain.Message `json:"messages"`
		Temperature float64          `json:"temperature"`
		MaxTokens   int              `json:"max_tokens"`
		Provider    struct {
			Order          []string `json:"order"`
			AllowFallbacks bool     `json:"allow_fallbacks"`
		} `json:"provider"`
	}
	var headers http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"fine"}}]}`))
	}))
	defer srv.Close()

	e := New(Options{
		BaseURL:     srv.URL + "/",
		Client:      srv.Client(),
		Temperature: 0.7,
		MaxTokens:   1024,
		Routing:     &domain.ProviderRouting{Order: []string{"DeepInfra", "SambaNova"}, AllowFallbacks: true},
		Referer:     "https://tutor.example/",
		Title:       "Tutor-Tron",
	})

	msgs := []domain.Message{domain.NewSystemMessage("be kind"), domain.NewUserMessage("2+2?")}
	res := e.Attempt(context.Background(), msgs, "google/gemini-exp-1206:free", "sk-test")
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("Outcome = %v (%v)", res.Outcome, res.Err)
	}

	if headers.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", headers.Get("Authorization"))
	}
	if headers.Get("HTTP-Referer") != "https://tutor.example/" {
		t.Errorf("HTTP-Referer = %q", headers.Get("HTTP-Referer"))
	}
	if headers.Get("X-Title") != "Tutor-Tron" {
		t.Errorf("X-Title = %q", headers.Get("X-Title"))
	}
	if got.Model != "google/gemini-exp-1206:free" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content.String() != "2+2?" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Temperature != 0.7 || got.MaxTokens != 1024 {
		t.Errorf("temperature=%v max_tokens=%d", got.Temperature, got.MaxTokens)
	}
	if len(got.Provider.Order) != 2 || !got.Provider.AllowFallbacks {
		t.Errorf("provider = %+v", got.Provider)
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		want   string
		wantOK bool
	}{
		{"openai message", `{"choices":[{"message":{"content":"hello"}}]}`, "hello", true},
		{"content string", `{"choices":[{"content":"plain"}]}`, "plain", true},
		{"content object", `{"choices":[{"content":{"text":"obj"}}]}`, "obj", true},
		{"content parts", `{"choices":[{"content":[{"text":"a"},{"text":"b"}]}]}`, "a\nb", true},
		{"text field", `{"choices":[{"text":"legacy"}]}`, "legacy", true},
		{"raw string", `{"choices":["raw"]}`, "raw", true},
		{"message wins over content", `{"choices":[{"message":{"content":"m"},"content":"c"}]}`, "m", true},
		{"empty message falls through", `{"choices":[{"message":{"content":""},"text":"t"}]}`, "t", true},
		{"only first choice", `{"choices":[{},{"text":"second"}]}`, "", false},
		{"empty parts", `{"choices":[{"content":[{"type":"image"}]}]}`, "", false},
		{"no choices field", `{"id":"x"}`, "", false},
		{"invalid json", `{`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractText([]byte(tt.body))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}
