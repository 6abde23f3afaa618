package node

import "testing"

func TestRegisterFirstBidIsHigh(t *testing.T) {
	s := NewAuctionState()
	if !s.Register(50, "127.0.0.1:1", 1000) {
		t.Fatal("first positive bid must become the high bid")
	}
	if s.HighBid() != 50 || s.HighBidder() != "127.0.0.1:1" {
		t.Fatalf("got high=%v bidder=%v", s.HighBid(), s.HighBidder())
	}
}

func TestRegisterTieBreakStrictlyGreater(t *testing.T) {
	s := NewAuctionState()
	s.Register(100, "A", 1000)
	if s.Register(100, "B", 1001) {
		t.Fatal("equal bid must not displace the incumbent")
	}
	if s.HighBidder() != "A" {
		t.Fatalf("expected A to remain high bidder, got %s", s.HighBidder())
	}
}

func TestRegisterStrictlyHigherDisplaces(t *testing.T) {
	s := NewAuctionState()
	s.Register(100, "A", 1000)
	if !s.Register(101, "B", 1001) {
		t.Fatal("strictly higher bid must become new high")
	}
	if s.HighBidder() != "B" {
		t.Fatalf("expected B, got %s", s.HighBidder())
	}
}

func TestInvariantHighBidderNoneIffHighBidZero(t *testing.T) {
	s := NewAuctionState()
	if s.HighBidder() != "none" || s.HighBid() != 0 {
		t.Fatal("fresh store must start at none/0")
	}
}

func TestSnapshotHighZero(t *testing.T) {
	s := NewAuctionState()
	if got := s.SnapshotHigh(); got != "OFERTA_MAX:none:0.0" {
		t.Fatalf("got %q", got)
	}
}

func TestSnapshotHighAfterBid(t *testing.T) {
	s := NewAuctionState()
	s.Register(75, "127.0.0.1:50010", 1000)
	if got := s.SnapshotHigh(); got != "OFERTA_MAX:127.0.0.1:50010:75.0" {
		t.Fatalf("got %q", got)
	}
}

func TestMergeRemoteIdempotent(t *testing.T) {
	s := NewAuctionState()
	s.MergeRemote(200, "A", 1000)
	s.MergeRemote(200, "A", 1000)
	if s.HighBid() != 200 || s.HighBidder() != "A" {
		t.Fatalf("expected stable state after repeated merge, got %v/%v", s.HighBid(), s.HighBidder())
	}
	if s.ParticipantCount() != 1 {
		t.Fatalf("expected 1 participant, got %d", s.ParticipantCount())
	}
}

func TestMergeRemoteNeverLowersHighBid(t *testing.T) {
	s := NewAuctionState()
	s.Register(300, "A", 1000)
	s.MergeRemote(50, "B", 1001)
	if s.HighBid() != 300 || s.HighBidder() != "A" {
		t.Fatalf("lower remote bid must not lower high bid, got %v/%v", s.HighBid(), s.HighBidder())
	}
}

func TestWinner(t *testing.T) {
	s := NewAuctionState()
	if _, ok := s.Winner(); ok {
		t.Fatal("fresh store must have no winner")
	}
	s.Register(10, "A", 1000)
	s.Register(20, "B", 1001)
	w, ok := s.Winner()
	if !ok || w.Address != "B" || w.LastBid != 20 {
		t.Fatalf("got %+v, %v", w, ok)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewAuctionState()
	s.Register(10, "A", 1000)
	s.Start(1000)
	s.Reset()
	if s.HighBid() != 0 || s.HighBidder() != "none" || s.Active() || s.ParticipantCount() != 0 {
		t.Fatal("reset must restore initial values")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := NewAuctionState()
	s.Register(10, "A", 1000)
	s.Register(25, "B", 1500)
	s.Start(900)

	line := s.Serialize()
	snap, err := Deserialize(line)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if snap.HighBid != 25 || snap.HighBidder != "B" || snap.StartedAtMillis != 900 || !snap.Active {
		t.Fatalf("round trip mismatch: %+v", snap)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(snap.Participants))
	}
}

func TestSerializeRoundTripFractionalBidIsLossless(t *testing.T) {
	s := NewAuctionState()
	s.Register(10.37, "A", 1000)
	s.Start(900)

	snap, err := Deserialize(s.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if snap.HighBid != 10.37 {
		t.Fatalf("expected lossless round trip of 10.37, got %v", snap.HighBid)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].LastBid != 10.37 {
		t.Fatalf("expected participant bid to survive the round trip, got %+v", snap.Participants)
	}
}

func TestSerializeRoundTripEmpty(t *testing.T) {
	s := NewAuctionState()
	snap, err := Deserialize(s.Serialize())
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if snap.HighBidder != "none" || len(snap.Participants) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMergeFullStateMonotone(t *testing.T) {
	s := NewAuctionState()
	s.Register(50, "A", 1000)

	remote := Snapshot{
		HighBid:    30,
		HighBidder: "B",
		Participants: []ParticipantRecord{
			{Address: "A", LastBid: 20, LastUpdateMillis: 500},
			{Address: "B", LastBid: 30, LastUpdateMillis: 600},
		},
	}
	s.MergeFullState(remote)

	if s.HighBid() != 50 || s.HighBidder() != "A" {
		t.Fatalf("merge must never lower high bid, got %v/%v", s.HighBid(), s.HighBidder())
	}
	if s.ParticipantCount() != 2 {
		t.Fatalf("expected union of participants, got %d", s.ParticipantCount())
	}
}

func TestMergeFullStateAdoptsHigherRemote(t *testing.T) {
	s := NewAuctionState()
	remote := Snapshot{
		HighBid:    300,
		HighBidder: "C",
		Participants: []ParticipantRecord{
			{Address: "C", LastBid: 300, LastUpdateMillis: 700},
		},
	}
	s.MergeFullState(remote)
	if s.HighBid() != 300 || s.HighBidder() != "C" {
		t.Fatalf("expected adoption of higher remote state, got %v/%v", s.HighBid(), s.HighBidder())
	}
}
