package tenant

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateKey_Format(t *testing.T) {
	key, err := GenerateKey("prod")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(key, "insight-prod-") {
		t.Errorf("unexpected prefix: %s", key)
	}
	parts := strings.SplitN(key, "-", 3)
	if len(parts) != 3 || len(parts[2]) != 32 {
		t.Errorf("expected 32 random chars, got %q", key)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateKey("test")
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		if seen[key] {
			t.Fatal("duplicate key generated")
		}
		seen[key] = true
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	a := HashKey("insight-prod-abc123")
	b := HashKey("insight-prod-abc123")
	if a != b {
		t.Error("same key must hash identically")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
	if a == HashKey("insight-prod-abc124") {
		t.Error("different keys must hash differently")
	}
}

func TestKeyPrefix(t *testing.T) {
	key, err := GenerateKey("prod")
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	prefix := KeyPrefix(key)
	if !strings.HasPrefix(key, prefix) {
		t.Errorf("prefix %q not a prefix of key", prefix)
	}
	if len(prefix) != len("insight-prod-")+8 {
		t.Errorf("prefix length = %d: %q", len(prefix), prefix)
	}
}

func TestKeyPrefix_ShortInput(t *testing.T) {
	if got := KeyPrefix("short"); got != "short" {
		t.Errorf("KeyPrefix(short) = %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"365d", 365 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"24h", 24 * time.Hour},
		{"90m", 90 * time.Minute},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if _, err := ParseDuration(""); err == nil {
		t.Error("expected error for empty duration")
	}
	if _, err := ParseDuration("xd"); err == nil {
		t.Error("expected error for malformed day count")
	}
}

func TestContextPermits(t *testing.T) {
	tc := &Context{TenantID: "t-1", AllowedTenantIDs: []string{"t-2"}}
	if !tc.Permits("t-1") {
		t.Error("expected own tenant permitted")
	}
	if !tc.Permits("t-2") {
		t.Error("expected membership tenant permitted")
	}
	if tc.Permits("t-3") {
		t.Error("expected foreign tenant denied")
	}

	admin := &Context{CrossTenantAdmin: true}
	if !admin.Permits("anything") {
		t.Error("expected admin permitted everywhere")
	}
}
