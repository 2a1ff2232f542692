package bcstate

import "testing"

func TestGetOrCreateSeedsDefaults(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("curveA", "mintA")
	snap := c.Snapshot()
	if snap.VirtualSolReserves != defaultVirtualSolReserves || snap.VirtualTokenReserves != defaultVirtualTokenReserves {
		t.Fatalf("expected default reserves, got %+v", snap)
	}

	again := s.GetOrCreate("curveA", "mintA")
	if again != c {
		t.Fatal("expected GetOrCreate to return the same curve on second call")
	}
}

func TestApplyTradeBuyIncreasesSolDecreasesToken(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("curveA", "mintA")
	before := c.Snapshot()

	c.ApplyTrade(true, 1_000_000_000, 5_000_000_000, 10)

	after := c.Snapshot()
	if after.VirtualSolReserves != before.VirtualSolReserves+1_000_000_000 {
		t.Fatalf("expected sol reserves to increase by amount, got %d", after.VirtualSolReserves)
	}
	if after.VirtualTokenReserves != before.VirtualTokenReserves-5_000_000_000 {
		t.Fatalf("expected token reserves to decrease by amount, got %d", after.VirtualTokenReserves)
	}
	if after.LastSlot != 10 {
		t.Fatalf("expected last slot updated, got %d", after.LastSlot)
	}
}

func TestApplyTradeSellReversesDirection(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("curveA", "mintA")

	c.ApplyTrade(false, 1_000_000_000, 5_000_000_000, 11)

	after := c.Snapshot()
	if after.VirtualSolReserves != defaultVirtualSolReserves-1_000_000_000 {
		t.Fatalf("expected sol reserves to decrease, got %d", after.VirtualSolReserves)
	}
	if after.VirtualTokenReserves != defaultVirtualTokenReserves+5_000_000_000 {
		t.Fatalf("expected token reserves to increase, got %d", after.VirtualTokenReserves)
	}
}

func TestApplyTradeClampsAtZero(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("curveA", "mintA")

	c.ApplyTrade(false, defaultVirtualSolReserves*2, 0, 1)

	after := c.Snapshot()
	if after.VirtualSolReserves != 0 {
		t.Fatalf("expected reserves clamped at zero, got %d", after.VirtualSolReserves)
	}
}

func TestSeedOverwritesReserves(t *testing.T) {
	s := NewStore()
	s.GetOrCreate("curveA", "mintA")

	c := s.Seed("curveA", "mintA", 99, 88, true, 5)
	snap := c.Snapshot()
	if snap.VirtualSolReserves != 99 || snap.VirtualTokenReserves != 88 || !snap.Complete {
		t.Fatalf("expected seeded reserves, got %+v", snap)
	}
}

func TestMarkCompleteSetsFlag(t *testing.T) {
	s := NewStore()
	c := s.GetOrCreate("curveA", "mintA")
	c.MarkComplete(42)
	if !c.Snapshot().Complete {
		t.Fatal("expected curve marked complete")
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("nope"); ok {
		t.Fatal("expected missing curve to report false")
	}
}
