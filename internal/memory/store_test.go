package memory

import "testing"

func newTestStore() *Store {
	return NewStore(DefaultTierConfigs(10_000))
}

func TestAddInfersTierByRoleAndPriority(t *testing.T) {
	s := newTestStore()

	if tier, err := s.AddSystem(Message{ID: "sys1", Content: "you are helpful", Tokens: 10}); err != nil || tier != TierSystem {
		t.Fatalf("expected system tier, got %v err=%v", tier, err)
	}
	if tier, err := s.AddToolResult(Message{ID: "tool1", Content: "result", Tokens: 10}); err != nil || tier != TierTools {
		t.Fatalf("expected tools tier, got %v err=%v", tier, err)
	}
	if tier, err := s.Add(Message{ID: "eph1", Content: "scratch", Tokens: 5, Priority: PriorityEphemeral}); err != nil || tier != TierEphemeral {
		t.Fatalf("expected ephemeral tier, got %v err=%v", tier, err)
	}
	if tier, err := s.AddUser(Message{ID: "u1", Content: "hi", Tokens: 5}); err != nil || tier != TierRecent {
		t.Fatalf("expected recent tier, got %v err=%v", tier, err)
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	s := newTestStore()
	if _, err := s.AddUser(Message{ID: "dup", Content: "a", Tokens: 1}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := s.AddUser(Message{ID: "dup", Content: "b", Tokens: 1}); err == nil {
		t.Fatalf("expected duplicate ID to be rejected")
	}
}

func TestGetAllOrdering(t *testing.T) {
	s := newTestStore()
	s.AddUser(Message{ID: "u1", Content: "a", Tokens: 1})
	s.AddSystem(Message{ID: "s1", Content: "b", Tokens: 1})
	s.AddToolResult(Message{ID: "t1", Content: "c", Tokens: 1})
	s.Add(Message{ID: "e1", Content: "d", Tokens: 1, Priority: PriorityEphemeral})

	all := s.GetAll()
	var order []Tier
	for _, m := range all {
		tier, _ := s.TierFor(m.ID)
		order = append(order, tier)
	}
	wantFirst := TierSystem
	if order[0] != wantFirst {
		t.Fatalf("expected system tier first, got %v", order)
	}
	lastIdx := len(order) - 1
	if order[lastIdx] != TierEphemeral {
		t.Fatalf("expected ephemeral tier last, got %v", order)
	}
}

func TestPromoteDemoteRoundTrip(t *testing.T) {
	s := newTestStore()
	s.AddUser(Message{ID: "u1", Content: "a", Tokens: 1})

	demoted, err := s.Demote(1)
	if err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(demoted) != 1 || demoted[0] != "u1" {
		t.Fatalf("expected u1 demoted, got %v", demoted)
	}
	if tier, _ := s.TierFor("u1"); tier != TierArchived {
		t.Fatalf("expected archived after demote, got %v", tier)
	}

	if err := s.Promote("u1"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if tier, _ := s.TierFor("u1"); tier != TierRecent {
		t.Fatalf("expected recent after promote, got %v", tier)
	}
}

func TestDemoteTakesOldestFirst(t *testing.T) {
	s := newTestStore()
	s.AddUser(Message{ID: "u1", Content: "a", Tokens: 1})
	s.AddUser(Message{ID: "u2", Content: "b", Tokens: 1})
	s.AddUser(Message{ID: "u3", Content: "c", Tokens: 1})

	demoted, err := s.Demote(2)
	if err != nil {
		t.Fatalf("demote: %v", err)
	}
	if len(demoted) != 2 || demoted[0] != "u1" || demoted[1] != "u2" {
		t.Fatalf("expected u1,u2 demoted oldest-first, got %v", demoted)
	}
	if tier, _ := s.TierFor("u3"); tier != TierRecent {
		t.Fatalf("expected u3 to remain in recent, got %v", tier)
	}
}

func TestEvictLowestPriorityThenOldestFirst(t *testing.T) {
	cfg := DefaultTierConfigs(10_000)
	cfg[TierRecent] = TierConfig{MaxTokens: 1000, MinTokens: 0, Compressible: true}
	s := NewStore(cfg)

	s.Add(Message{ID: "low-old", Content: "a", Tokens: 10, Priority: PriorityLow})
	s.Add(Message{ID: "low-new", Content: "b", Tokens: 10, Priority: PriorityLow})
	s.Add(Message{ID: "high", Content: "c", Tokens: 10, Priority: PriorityHigh})

	evicted, freed := s.Evict(TierRecent, 10)
	if len(evicted) != 1 || evicted[0] != "low-old" {
		t.Fatalf("expected low-old evicted first, got %v", evicted)
	}
	if freed != 10 {
		t.Fatalf("expected 10 tokens freed, got %d", freed)
	}
	if _, ok := s.Get("high"); !ok {
		t.Fatalf("expected high priority message to survive eviction")
	}
}

func TestEvictRespectsMinTokensFloor(t *testing.T) {
	cfg := DefaultTierConfigs(10_000)
	cfg[TierRecent] = TierConfig{MaxTokens: 1000, MinTokens: 15, Compressible: true}
	s := NewStore(cfg)
	s.Add(Message{ID: "a", Content: "a", Tokens: 10, Priority: PriorityLow})
	s.Add(Message{ID: "b", Content: "b", Tokens: 10, Priority: PriorityLow})

	evicted, freed := s.Evict(TierRecent, 20)
	if freed >= 20 {
		t.Fatalf("expected eviction to stop short of floor, freed %d", freed)
	}
	_ = evicted
}

func TestStatsAggregatesPerTier(t *testing.T) {
	s := newTestStore()
	s.AddSystem(Message{ID: "s1", Content: "x", Tokens: 7})
	s.AddUser(Message{ID: "u1", Content: "y", Tokens: 3})

	stats := s.Stats()
	if stats.PerTier[TierSystem] != 7 {
		t.Fatalf("expected system tier 7 tokens, got %d", stats.PerTier[TierSystem])
	}
	if stats.TotalTokens != 10 {
		t.Fatalf("expected 10 total tokens, got %d", stats.TotalTokens)
	}
}

func TestReplacePreservesTierAndID(t *testing.T) {
	s := newTestStore()
	s.AddUser(Message{ID: "u1", Content: "original long text", Tokens: 20})
	if err := s.Replace("u1", "short", 3); err != nil {
		t.Fatalf("replace: %v", err)
	}
	m, ok := s.Get("u1")
	if !ok || m.Content != "short" || m.Tokens != 3 {
		t.Fatalf("expected replaced content/tokens, got %+v ok=%v", m, ok)
	}
}
