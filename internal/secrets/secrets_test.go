package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecretsManager struct {
	calls  int
	values map[string]string
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestAWSStore_CachesValues(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"tutor/keys": "k1,k2"}}
	store := newAWSStore(fake)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := store.GetSecret(ctx, "tutor/keys")
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		if v != "k1,k2" {
			t.Errorf("GetSecret() = %q, want k1,k2", v)
		}
	}

	if fake.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", fake.calls)
	}
}

func TestAWSStore_ZeroTTLRefetches(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"k": "v"}}
	store := newAWSStore(fake)
	store.SetCacheTTL(0)

	store.GetSecret(context.Background(), "k")
	store.GetSecret(context.Background(), "k")

	if fake.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", fake.calls)
	}
}

func TestAWSStore_Missing(t *testing.T) {
	store := newAWSStore(&fakeSecretsManager{values: map[string]string{}})

	if _, err := store.GetSecret(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetSecret(ctx, "keys"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}

	store.Set("keys", "a,b")
	store.Set("keys", "c")

	v, err := store.GetSecret(ctx, "keys")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if v != "c" {
		t.Errorf("GetSecret() = %q, want c", v)
	}
}
