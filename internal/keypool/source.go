package keypool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/tutor-gateway/internal/crypto"
	"github.com/felipepmaragno/tutor-gateway/internal/httputil"
	"github.com/felipepmaragno/tutor-gateway/internal/secrets"
)

// Source returns the raw comma-separated credential string. It is consulted
// once, at startup.
type Source interface {
	Keys(ctx context.Context) (string, error)
}

// Load fetches the key string from src and builds a pool from it.
func Load(ctx context.Context, src Source) (*Pool, error) {
	raw, err := src.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keys: %w", err)
	}
	return New(Parse(raw)), nil
}

type StaticSource string

func (s StaticSource) Keys(ctx context.Context) (string, error) {
	return string(s), nil
}

// keyDocument is the JSON shape served by the key endpoint. Both the plural
// and singular field names are accepted.
type keyDocument struct {
	Keys   string `json:"OPENROUTER_API_KEYS"`
	Single string `json:"OPENROUTER_API_KEY"`
}

func (d keyDocument) value() string {
	if d.Keys != "" {
		return d.Keys
	}
	return d.Single
}

// SecretSource reads the keys from a secret store. The secret may hold the
// comma-separated string directly or a keyDocument.
type SecretSource struct {
	Store secrets.Store
	Name  string
}

func (s SecretSource) Keys(ctx context.Context) (string, error) {
	raw, err := s.Store.GetSecret(ctx, s.Name)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var doc keyDocument
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return "", fmt.Errorf("decode key secret: %w", err)
		}
		return doc.value(), nil
	}
	return trimmed, nil
}

// HTTPSource fetches a keyDocument from an HTTP endpoint.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Keys(ctx context.Context) (string, error) {
	client := s.Client
	if client == nil {
		client = httputil.DefaultClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("key endpoint: status=%d", resp.StatusCode)
	}

	body, err := httputil.ReadBody(resp.Body, 64<<10)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var doc keyDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return doc.value(), nil
}

// SealedSource opens a key string sealed with crypto.Sealer.
type SealedSource struct {
	Ciphertext string
	Sealer     *crypto.Sealer
}

func (s SealedSource) Keys(ctx context.Context) (string, error) {
	plaintext, err := s.Sealer.Open(s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("open sealed keys: %w", err)
	}
	return plaintext, nil
}
