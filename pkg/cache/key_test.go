package cache

import (
	"strings"
	"testing"

	"github.com/Sternrassler/crm-company-cache/pkg/endpoint"
	"github.com/rs/zerolog"
)

func TestKeyFor(t *testing.T) {
	raw := "https://example.bitrix24.ru/rest/1/abc/crm.company.list.json"
	ep, err := endpoint.NewValidator(zerolog.Nop()).Validate(raw)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	key := KeyFor(ep)
	if string(key) != endpoint.KeyFor(raw) {
		t.Errorf("KeyFor = %s, want md5 of the url", key)
	}
	if !key.Valid() {
		t.Errorf("KeyFor produced invalid key %q", key)
	}
	if KeyFor(ep) != key {
		t.Error("KeyFor must be deterministic")
	}
}

func TestKey_Formats(t *testing.T) {
	key := Key("5d41402abc4b2a76b9719d911017c592")

	if got := key.String(); got != "crm:cache:5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("String() = %q", got)
	}
	if got := key.FileName(); got != "5d41402abc4b2a76b9719d911017c592.json" {
		t.Errorf("FileName() = %q", got)
	}
}

func TestKey_Valid(t *testing.T) {
	tests := []struct {
		key  Key
		want bool
	}{
		{"5d41402abc4b2a76b9719d911017c592", true},
		{"", false},
		{"5D41402ABC4B2A76B9719D911017C592", false},
		{"../../../../../../etc/passwd.....", false},
		{Key(strings.Repeat("a", 31)), false},
		{Key(strings.Repeat("a", 33)), false},
	}

	for _, tt := range tests {
		if got := tt.key.Valid(); got != tt.want {
			t.Errorf("Key(%q).Valid() = %v, want %v", tt.key, got, tt.want)
		}
	}
}
