package policy

import "testing"

func TestStore_GlobalFallback(t *testing.T) {
	s := NewStore(nil)

	p := s.Get("nonexistent-scope")
	if p.Version != "v1" {
		t.Errorf("fallback version = %q, want v1", p.Version)
	}
	if p.MaxActionsPerMinute != 30 {
		t.Errorf("fallback rate limit = %d, want 30", p.MaxActionsPerMinute)
	}
}

func TestStore_SetPreservesHistory(t *testing.T) {
	s := NewStore(nil)

	p2 := DefaultPolicy()
	p2.Version = ""
	p2.MaxSpend = 250
	installed := s.Set(GlobalScope, p2)
	if installed.Version != "v2" {
		t.Errorf("version = %q, want v2", installed.Version)
	}

	hist := s.History(GlobalScope)
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	if hist[0].Version != "v1" {
		t.Errorf("history[0].Version = %q, want v1", hist[0].Version)
	}
	if got := s.Get(GlobalScope).MaxSpend; got != 250 {
		t.Errorf("active MaxSpend = %v, want 250", got)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(nil)

	p := s.Get(GlobalScope)
	p.BlockedDomains[0] = "mutated"

	if s.Get(GlobalScope).BlockedDomains[0] == "mutated" {
		t.Error("mutation through Get leaked into the store")
	}
}

func TestStore_DeleteGlobalRefused(t *testing.T) {
	s := NewStore(nil)
	if err := s.Delete(GlobalScope); err == nil {
		t.Fatal("deleting global scope should fail")
	}

	s.Set("ses_1", DefaultPolicy())
	if err := s.Delete("ses_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Falls back to global again.
	if s.Get("ses_1").Version != "v1" {
		t.Error("deleted scope should fall back to global")
	}
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"v1", "v2"},
		{"v9", "v10"},
		{"", "v1"},
		{"garbage", "v1"},
	}
	for _, tt := range tests {
		if got := nextVersion(tt.in); got != tt.want {
			t.Errorf("nextVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
