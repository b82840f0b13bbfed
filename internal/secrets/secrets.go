// Package secrets reads named secrets, such as the upstream key list, from
// AWS Secrets Manager or an in-process map.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrSecretNotFound = errors.New("secret not found")

type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// secretsManagerAPI is the subset of the AWS client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSStore struct {
	client secretsManagerAPI
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSStoreWithConfig(cfg), nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return newAWSStore(secretsmanager.NewFromConfig(cfg))
}

func newAWSStore(client secretsManagerAPI) *AWSStore {
	return &AWSStore{
		client: client,
		ttl:    5 * time.Minute,
		cache:  make(map[string]cachedSecret),
	}
}

func (s *AWSStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	cached, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("get secret %s: %w", name, ErrSecretNotFound)
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: *out.SecretString, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return *out.SecretString, nil
}

func (s *AWSStore) SetCacheTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("get secret %s: %w", name, ErrSecretNotFound)
	}
	return value, nil
}

func (s *MemoryStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}
