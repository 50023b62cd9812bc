package secrets

import (
	"context"
	"strings"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		wantErr     bool
		errContains string
	}{
		{name: "memory", provider: "memory", wantErr: false},
		{name: "env", provider: "env", wantErr: false},
		{name: "empty defaults to env", provider: "", wantErr: false},
		{name: "unknown provider", provider: "unknown", wantErr: true, errContains: "unsupported secret provider"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(Config{Provider: tc.provider})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				if tc.errContains != "" && !strings.Contains(err.Error(), tc.errContains) {
					t.Fatalf("error = %q, want contains %q", err.Error(), tc.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if store == nil {
				t.Fatalf("store is nil")
			}
		})
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, "model/api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "model/api_key")
	if err != nil || got != "sk-1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	keys, _ := s.List(ctx, "model/")
	if len(keys) != 1 {
		t.Errorf("List = %v, want 1 key", keys)
	}
	if err := s.Delete(ctx, "model/api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "model/api_key"); err == nil {
		t.Errorf("Get after Delete should fail")
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "sandbox/token", "sb-1")

	got, err := Resolve(ctx, s, "vault:sandbox/token")
	if err != nil || got != "sb-1" {
		t.Fatalf("Resolve vault ref = %q, %v", got, err)
	}
	got, err = Resolve(ctx, s, "plain-value")
	if err != nil || got != "plain-value" {
		t.Fatalf("Resolve plain = %q, %v", got, err)
	}
	got, err = Resolve(ctx, nil, "vault:whatever")
	if err != nil || got != "vault:whatever" {
		t.Fatalf("Resolve nil store = %q, %v", got, err)
	}
}
