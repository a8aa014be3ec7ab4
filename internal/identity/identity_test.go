package identity

import (
	"strings"
	"testing"

	"github.com/catchat-dev/catchat/internal/kv"
)

func TestCurrent_GeneratesWhenEmpty(t *testing.T) {
	p := NewProvider(kv.NewMemoryStore())

	token, err := p.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if !strings.HasPrefix(token, "user_") {
		t.Errorf("token = %q, want user_ prefix", token)
	}
	if len(strings.Split(token, "_")) != 3 {
		t.Errorf("token = %q, want user_<ms>_<suffix> shape", token)
	}
}

func TestCurrent_ReturnsPersisted(t *testing.T) {
	store := kv.NewMemoryStore()
	p := NewProvider(store)

	first, err := p.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	second, err := p.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if first != second {
		t.Errorf("Current changed between calls: %q vs %q", first, second)
	}
}

func TestRefresh_AlwaysChanges(t *testing.T) {
	store := kv.NewMemoryStore()
	p := NewProvider(store)

	first, err := p.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	second, err := p.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if first == second {
		t.Errorf("Refresh returned the same token twice: %q", first)
	}

	// The refreshed token is persisted.
	var stored string
	if err := store.Get(kv.KeyClientIdentity, &stored); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored != second {
		t.Errorf("persisted token = %q, want %q", stored, second)
	}
}
