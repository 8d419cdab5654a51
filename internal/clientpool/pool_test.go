package clientpool

import "testing"

func TestPoolAddGetRemove(t *testing.T) {
	p := NewPool(4)

	rec := p.Add("client-1")
	if rec.ID != "client-1" {
		t.Fatalf("expected id client-1, got %s", rec.ID)
	}
	if p.Count() != 1 {
		t.Fatalf("expected count 1, got %d", p.Count())
	}

	if _, ok := p.Get("client-1"); !ok {
		t.Fatal("expected to find client-1")
	}

	p.Remove("client-1")
	if p.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", p.Count())
	}
	if _, ok := p.Get("client-1"); ok {
		t.Fatal("expected client-1 to be gone after remove")
	}
}

func TestPoolRemoveIsIdempotent(t *testing.T) {
	p := NewPool(4)
	p.Add("client-1")
	p.Remove("client-1")
	p.Remove("client-1") // must not panic or go negative
	if p.Count() != 0 {
		t.Fatalf("expected count 0, got %d", p.Count())
	}
}

func TestPoolTracksTotalsAndPeak(t *testing.T) {
	p := NewPool(4)
	p.Add("a")
	p.Add("b")
	p.Add("c")
	if p.TotalConnections() != 3 {
		t.Fatalf("expected total 3, got %d", p.TotalConnections())
	}
	if p.PeakConnections() != 3 {
		t.Fatalf("expected peak 3, got %d", p.PeakConnections())
	}

	p.Remove("a")
	p.Remove("b")
	if p.TotalConnections() != 3 {
		t.Fatalf("expected total to stay 3 after removal, got %d", p.TotalConnections())
	}
	if p.PeakConnections() != 3 {
		t.Fatalf("expected peak to stay 3 after removal, got %d", p.PeakConnections())
	}

	p.Add("d")
	p.Add("e")
	if p.PeakConnections() != 3 {
		t.Fatalf("expected peak to stay 3 (never more than 3 concurrent), got %d", p.PeakConnections())
	}
}

func TestPoolBroadcastSkipsFullQueues(t *testing.T) {
	p := NewPool(1)
	recA := p.Add("a")
	p.Add("b")

	// Fill a's queue so the broadcast below has to skip it.
	if !recA.Send([]byte("filler")) {
		t.Fatal("expected filler send to succeed")
	}

	enqueued, dropped := p.Broadcast([]byte("hello"))
	if enqueued != 1 {
		t.Fatalf("expected 1 successful enqueue, got %d", enqueued)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped enqueue, got %d", dropped)
	}

	snap := recA.Snapshot()
	if snap.ErrorCount != 1 {
		t.Fatalf("expected dropped broadcast to count as a client error, got %d", snap.ErrorCount)
	}
	if p.DroppedTotal() != 1 {
		t.Fatalf("expected cumulative dropped total 1, got %d", p.DroppedTotal())
	}
}

func TestPoolRemoveAllClearsEveryClient(t *testing.T) {
	p := NewPool(4)
	a := p.Add("a")
	p.Add("b")
	p.Add("c")

	p.RemoveAll()

	if p.Count() != 0 {
		t.Fatalf("expected count 0 after RemoveAll, got %d", p.Count())
	}
	if len(p.ListSnapshots()) != 0 {
		t.Fatalf("expected no snapshots after RemoveAll, got %d", len(p.ListSnapshots()))
	}
	if a.Send([]byte("x")) {
		t.Fatal("expected outbound channel to be closed after RemoveAll")
	}
}

func TestPoolListSnapshotsReturnsAllClients(t *testing.T) {
	p := NewPool(4)
	p.Add("a")
	p.Add("b")
	p.Add("c")

	snaps := p.ListSnapshots()
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
}
