package node

// ring.go is C3 — the ring coordinator: peer connections, the
// highest-ID election rule, heartbeat liveness, and best-effort bid
// replication.
//
// Grounded on the teacher's bully.go: the same "dial every peer, remember
// who answered, highest id wins" shape, generalized from the teacher's
// vote-then-broadcast Bully protocol (which waits 2s for OK replies) to
// spec.md §4.3's simplified rule, which needs no message exchange at all
// — the live set alone determines the leader deterministically. The
// teacher's RPC-call-per-peer pattern (net/rpc over HTTP) becomes a
// dialed Conn (C1) per peer, since spec.md's wire protocol is plain
// newline frames, not Go RPC.

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"auctionring/internal/telemetry/metrics"

	"github.com/rs/zerolog"
)

const (
	bootstrapGrace    = 2 * time.Second
	peerDialTimeout   = 3 * time.Second
	heartbeatInterval = 3 * time.Second
	heartbeatTimeout  = 10 * time.Second
	monitorInterval   = 2 * time.Second
)

// LeaderInfo is the small read-only view of C3 (IsLeader, LeaderID) that
// *Ring satisfies. C3 holds a reference to C2 only and never to C5. C5
// does not hold C3 through this interface: it keeps a concrete *Ring,
// which it also passes on to each C4 handler for ReplicateBid.
type LeaderInfo interface {
	IsLeader() bool
	LeaderID() int
}

// Ring is C3.
type Ring struct {
	myID int
	host string

	state   *AuctionState
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu                  sync.Mutex
	leaderID            int // 0 = unknown
	iAmLeader           bool
	peers               map[int]*Conn
	peerAddr            map[int]string // peer-port address per peer id, recorded at bootstrap
	electionInProgress  atomic.Bool
	lastHeartbeatMillis atomic.Int64

	listener *peerListener
	stopCh   chan struct{}
	stopOnce sync.Once
}

// peerListener is a thin seam so tests can bypass real TCP.
type peerListener struct {
	close func() error
}

// NewRing constructs C3 with a reference to C2 only (no reverse pointer
// to C5 is ever created — see spec.md §9 "Cyclic references").
func NewRing(myID int, host string, state *AuctionState, log zerolog.Logger, m *metrics.Metrics) *Ring {
	return &Ring{
		myID:     myID,
		host:     host,
		state:    state,
		log:      log,
		metrics:  m,
		peers:    map[int]*Conn{},
		peerAddr: map[int]string{},
		stopCh:   make(chan struct{}),
	}
}

// IsLeader implements LeaderInfo.
func (r *Ring) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iAmLeader
}

// LeaderID implements LeaderInfo. Returns 0 if unknown.
func (r *Ring) LeaderID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderID
}

// LeaderAddr returns this replica's host (without a port) when it is the
// leader, or otherwise the leader's peer-port address from peerAddr.
// ok=false if the leader is unknown or has no recorded address. REDIR
// frames do not use it; the controller looks the leader up in the
// membership table instead.
func (r *Ring) LeaderAddr() (host string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leaderID == 0 {
		return "", false
	}
	if r.leaderID == r.myID {
		return r.host, true
	}
	addr, ok := r.peerAddr[r.leaderID]
	return addr, ok
}

// Bootstrap listens on peerPort, waits a grace period, then dials every
// peer's peerPort (spec.md §4.3 "Bootstrap"). Missing peers are simply
// absent from the live set, not an error.
func (r *Ring) Bootstrap(peerPort int, peers map[int]string) error {
	ln, err := listenTCP(fmt.Sprintf("%s:%d", r.host, peerPort))
	if err != nil {
		return fmt.Errorf("ring listen on port %d: %w", peerPort, err)
	}
	r.listener = &peerListener{close: ln.Close}
	go r.acceptLoop(ln)

	time.Sleep(bootstrapGrace)

	r.mu.Lock()
	for id, addr := range peers {
		r.peerAddr[id] = addr
	}
	r.mu.Unlock()

	for id, addr := range peers {
		conn, err := DialTimeout(addr, peerDialTimeout)
		if err != nil {
			r.log.Warn().Int("peer_id", id).Str("addr", addr).Err(err).Msg("peer unreachable at bootstrap")
			continue
		}
		r.mu.Lock()
		r.peers[id] = conn
		r.mu.Unlock()
		r.log.Info().Int("peer_id", id).Str("addr", addr).Msg("connected to peer")
	}

	go r.heartbeatLoop()
	go r.monitorLoop()
	r.StartElection()
	return nil
}

func (r *Ring) acceptLoop(ln tcpListener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
				r.log.Warn().Err(err).Msg("ring accept error")
				return
			}
		}
		go r.handleInboundPeer(NewConn(raw))
	}
}

func (r *Ring) handleInboundPeer(conn *Conn) {
	defer conn.Close()
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}
		r.lastHeartbeatMillis.Store(time.Now().UnixMilli())
		r.handleFrame(line)
	}
}

func (r *Ring) handleFrame(line string) {
	msg := parseRingFrame(line)
	switch msg.kind {
	case "coordinador":
		r.mu.Lock()
		r.leaderID = msg.senderID
		r.iAmLeader = msg.senderID == r.myID
		r.mu.Unlock()
		r.log.Info().Int("leader_id", msg.senderID).Msg("new coordinator announced")

	case "heartbeat":
		// lastHeartbeatMillis already bumped by handleInboundPeer.

	case "sync":
		if r.state.MergeRemote(msg.bid, msg.addr, msg.millis) {
			if r.metrics != nil {
				r.metrics.CurrentHighBid.Set(msg.bid)
			}
		}

	case "syncfull":
		snap, err := Deserialize(msg.fullPayload)
		if err != nil {
			r.log.Warn().Err(err).Msg("malformed full-state sync frame")
			return
		}
		r.state.MergeFullState(snap)

	case "eleccion":
		go r.StartElection()

	default:
		r.log.Warn().Str("frame", line).Msg("unrecognized ring frame")
	}
}

// StartElection computes leadership deterministically from the live set
// (spec.md §4.3): live = {myId} ∪ keys(peers); leaderId = max(live).
// electionInProgress guards re-entrancy; additional concurrent triggers
// are dropped while one is running.
func (r *Ring) StartElection() {
	if !r.electionInProgress.CompareAndSwap(false, true) {
		return
	}
	defer r.electionInProgress.Store(false)

	if r.metrics != nil {
		r.metrics.ElectionsTotal.Inc()
	}

	r.mu.Lock()
	live := r.myID
	for id := range r.peers {
		if id > live {
			live = id
		}
	}
	wasLeader := r.iAmLeader
	r.leaderID = live
	r.iAmLeader = live == r.myID
	becameLeader := r.iAmLeader && !wasLeader
	r.mu.Unlock()

	r.log.Info().Int("leader_id", live).Bool("i_am_leader", r.iAmLeader).Msg("election complete")

	if r.iAmLeader {
		r.broadcast(FrameCoordinador(r.myID))
	}
	if becameLeader {
		// S2: a newly promoted leader pushes a full-state snapshot before
		// resuming heartbeats, closing the "bid lost on leader crash"
		// gap spec.md §9 names as scoped future work.
		r.broadcast(FrameSyncFull(r.state.Serialize()))
	}
}

func (r *Ring) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if !r.IsLeader() {
				continue
			}
			r.broadcast(FrameHeartbeat(r.myID, time.Now().UnixMilli()))
			if r.metrics != nil {
				r.metrics.HeartbeatsSentTotal.Inc()
			}
		}
	}
}

func (r *Ring) monitorLoop() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			leaderID := r.leaderID
			iAmLeader := r.iAmLeader
			mu := r.lastHeartbeatMillis.Load()
			r.mu.Unlock()

			if iAmLeader || leaderID == 0 {
				continue
			}
			if time.Now().UnixMilli()-mu > heartbeatTimeout.Milliseconds() {
				r.log.Warn().Int("leader_id", leaderID).Msg("leader heartbeat timed out")
				if r.metrics != nil {
					r.metrics.HeartbeatsMissedTotal.Inc()
				}
				go r.StartElection()
			}
		}
	}
}

// ReplicateBid sends SYNC_ESTADO to every peer, but only if this replica
// is the leader (spec.md §4.3 "Bid replication" — fire-and-forget, no
// ACKs, no ordering).
func (r *Ring) ReplicateBid(bid float64, addr string) {
	if !r.IsLeader() {
		return
	}
	r.broadcast(FrameSyncEstado(bid, addr, time.Now().UnixMilli()))
	if r.metrics != nil {
		r.metrics.SyncFramesSentTotal.Inc()
	}
}

// broadcast writes frame to every live peer, dropping any peer whose
// writer errors (spec.md §4.3 "Peer channel failure"). If the dropped
// peer was the current leader, this replica immediately requests an
// election from its remaining peers (S3) instead of waiting out the full
// heartbeat timeout.
func (r *Ring) broadcast(frame string) {
	r.mu.Lock()
	snapshot := make(map[int]*Conn, len(r.peers))
	for id, c := range r.peers {
		snapshot[id] = c
	}
	leaderID := r.leaderID
	r.mu.Unlock()

	var lostLeader bool
	for id, c := range snapshot {
		if err := c.WriteLine(frame); err != nil {
			r.mu.Lock()
			delete(r.peers, id)
			r.mu.Unlock()
			r.log.Warn().Int("peer_id", id).Err(err).Msg("peer write failed, dropping")
			if id == leaderID {
				lostLeader = true
			}
		}
	}
	if lostLeader {
		go func() {
			r.broadcast(FrameEleccionRequest())
			r.StartElection()
		}()
	}
}

// Stop closes the peer listener and every peer connection.
func (r *Ring) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.listener != nil {
			_ = r.listener.close()
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.peers {
			_ = c.Close()
		}
	})
}
