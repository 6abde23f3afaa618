package node

// state.go is C2 — the in-memory auction state store. All mutators are
// serialized under one lock (AuctionState.mu); fast-path readers of
// Active may use the atomic accessor without taking it.
//
// Grounded on the teacher's ItemQueueState (node/state.go in the original
// EliteGamer007 layout): same single-struct-plus-mutex shape, same
// upsert-by-key participant bookkeeping — generalized from a queue of
// auction items down to the single current session spec.md describes,
// and with the two-phase-commit/Ricart-Agrawala coordination the teacher
// used to guard mutation removed, since spec.md's replication model is
// explicitly best-effort last-writer-wins, not a quorum protocol (see
// DESIGN.md for why 2PC/RA don't carry over).

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// ParticipantRecord is one bidder's latest standing in the session.
type ParticipantRecord struct {
	Address          string
	LastBid          float64
	LastUpdateMillis int64
}

// AuctionState is C2: the current highest bid, bidders, and session flags.
type AuctionState struct {
	mu sync.Mutex

	highBid         float64
	highBidder      string
	startedAtMillis int64
	active          atomic.Bool

	order  []string // insertion order of participant addresses
	byAddr map[string]*ParticipantRecord
}

// NewAuctionState returns a fresh store: highBid=0, highBidder="none".
func NewAuctionState() *AuctionState {
	return &AuctionState{
		highBidder: "none",
		byAddr:     map[string]*ParticipantRecord{},
	}
}

// Register upserts address's bid and reports whether it became the new high.
// Tie-break is strict '>': an equal bid never displaces the incumbent.
func (s *AuctionState) Register(bid float64, address string, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(bid, address, nowMillis)
}

// MergeRemote applies a replicated bid update. Same monotone rule as
// Register; idempotent under reapplication of the same (bid, address).
func (s *AuctionState) MergeRemote(bid float64, address string, nowMillis int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(bid, address, nowMillis)
}

func (s *AuctionState) applyLocked(bid float64, address string, nowMillis int64) bool {
	p, ok := s.byAddr[address]
	if !ok {
		p = &ParticipantRecord{Address: address}
		s.byAddr[address] = p
		s.order = append(s.order, address)
	}
	p.LastBid = bid
	p.LastUpdateMillis = nowMillis

	if bid > s.highBid {
		s.highBid = bid
		s.highBidder = address
		return true
	}
	return false
}

// Snapshot is a lock-free, fully-detached copy of an AuctionState, used
// for replication payloads (Serialize/Deserialize) and the new-leader
// full-state broadcast (S2). It carries no mutex so it is safe to copy,
// pass by value, and hold onto after the source store has moved on.
type Snapshot struct {
	HighBid         float64
	HighBidder      string
	StartedAtMillis int64
	Active          bool
	Participants    []ParticipantRecord
}

// Snapshot takes a consistent point-in-time copy of the store.
func (s *AuctionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]ParticipantRecord, 0, len(s.order))
	for _, addr := range s.order {
		parts = append(parts, *s.byAddr[addr])
	}
	return Snapshot{
		HighBid:         s.highBid,
		HighBidder:      s.highBidder,
		StartedAtMillis: s.startedAtMillis,
		Active:          s.active.Load(),
		Participants:    parts,
	}
}

// MergeFullState applies a newly-promoted leader's full snapshot (S2).
// Monotone: never lowers highBid; unions participants, keeping the higher
// lastBid per address on conflict.
func (s *AuctionState) MergeFullState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, remote := range snap.Participants {
		local, ok := s.byAddr[remote.Address]
		if !ok {
			cp := remote
			s.byAddr[remote.Address] = &cp
			s.order = append(s.order, remote.Address)
			continue
		}
		if remote.LastBid > local.LastBid {
			local.LastBid = remote.LastBid
			local.LastUpdateMillis = remote.LastUpdateMillis
		}
	}
	if snap.HighBid > s.highBid {
		s.highBid = snap.HighBid
		s.highBidder = snap.HighBidder
	}
}

// Reset returns every field to its initial value (Completed -> Preparation).
func (s *AuctionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highBid = 0
	s.highBidder = "none"
	s.startedAtMillis = 0
	s.active.Store(false)
	s.order = nil
	s.byAddr = map[string]*ParticipantRecord{}
}

// Start marks the session running as of nowMillis.
func (s *AuctionState) Start(nowMillis int64) {
	s.mu.Lock()
	s.startedAtMillis = nowMillis
	s.mu.Unlock()
	s.active.Store(true)
}

// Finish marks the session no longer accepting bids.
func (s *AuctionState) Finish() {
	s.active.Store(false)
}

// Active is a lock-free fast-path read.
func (s *AuctionState) Active() bool { return s.active.Load() }

// StartedAtMillis returns when the session started (0 if not yet started).
func (s *AuctionState) StartedAtMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAtMillis
}

// HighBid returns the current high bid under lock.
func (s *AuctionState) HighBid() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highBid
}

// HighBidder returns the current high bidder's address under lock.
func (s *AuctionState) HighBidder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highBidder
}

// SnapshotHigh renders "OFERTA_MAX:<address>:<bid>".
func (s *AuctionState) SnapshotHigh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("OFERTA_MAX:%s:%s", s.highBidder, formatBid(s.highBid))
}

// Winner returns the participant whose address is the current high
// bidder, or (zero, false) if there is none.
func (s *AuctionState) Winner() (ParticipantRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highBidder == "none" {
		return ParticipantRecord{}, false
	}
	p, ok := s.byAddr[s.highBidder]
	if !ok {
		return ParticipantRecord{}, false
	}
	return *p, true
}

// ParticipantCount reports how many distinct bidders have registered.
func (s *AuctionState) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// formatBid renders a bid with one decimal place, matching every wire
// example in spec.md §8 (e.g. "75.0", "100.0"). This is the bidder-facing
// and ring wire format (S4); it is deliberately lossy (one decimal place)
// and must never be used for the internal snapshot format below.
func formatBid(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// formatPrecise renders a bid losslessly, for Serialize/Deserialize only.
// The Round-trip law (spec.md §8) requires Deserialize(Serialize(s)) == s,
// which formatBid's one-decimal rounding would violate for any bid with
// more precision (e.g. 10.37 would come back as 10.4); S2's full-state
// merge then applies that rounded value to peers' live state, so this
// format must stay independent of the wire-facing one.
func formatPrecise(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Serialize produces a full, single-line, lossless snapshot for
// replication and the new-leader full-state broadcast (S2).
func (s *AuctionState) Serialize() string {
	snap := s.Snapshot()
	parts := make([]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		parts = append(parts, fmt.Sprintf("%s,%s,%d", p.Address, formatPrecise(p.LastBid), p.LastUpdateMillis))
	}
	return fmt.Sprintf("%s|%s|%d|%t|%s",
		formatPrecise(snap.HighBid), snap.HighBidder, snap.StartedAtMillis, snap.Active, strings.Join(parts, ";"))
}

// Deserialize parses Serialize's output back into a Snapshot.
func Deserialize(line string) (Snapshot, error) {
	fields := strings.SplitN(line, "|", 5)
	if len(fields) != 5 {
		return Snapshot{}, fmt.Errorf("malformed snapshot: %d fields", len(fields))
	}
	highBid, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed high bid: %w", err)
	}
	startedAt, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed started-at: %w", err)
	}

	out := Snapshot{
		HighBid:         highBid,
		HighBidder:      fields[1],
		StartedAtMillis: startedAt,
		Active:          fields[3] == "true",
	}

	if fields[4] != "" {
		for _, entry := range strings.Split(fields[4], ";") {
			pf := strings.Split(entry, ",")
			if len(pf) != 3 {
				return Snapshot{}, fmt.Errorf("malformed participant %q", entry)
			}
			bid, err := strconv.ParseFloat(pf[1], 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("malformed participant bid %q: %w", entry, err)
			}
			ts, err := strconv.ParseInt(pf[2], 10, 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("malformed participant timestamp %q: %w", entry, err)
			}
			out.Participants = append(out.Participants, ParticipantRecord{Address: pf[0], LastBid: bid, LastUpdateMillis: ts})
		}
	}
	return out, nil
}
