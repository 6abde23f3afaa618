package node

// controller.go is C5 — the session controller: a single long-running
// loop per replica driving Preparation -> Running -> Completed, arming
// the end and broadcast timers, and determining the winner.
//
// Grounded on the teacher's server.go accept loop (same "accept, gate,
// spawn a handler goroutine" shape); the Preparation/Running/Completed
// state machine and the two timers are new, generalized from the
// teacher's single always-open auction into spec.md's repeating,
// leader-gated sessions. Timer cancellation follows spec.md §9's design
// note: timers check a generation counter before firing instead of
// relying on a cancel() call, so a reset makes a stray late firing a
// no-op.

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"auctionring/internal/config"
	"auctionring/internal/telemetry/metrics"

	"github.com/rs/zerolog"
)

// Phase is C5's session state machine.
type Phase int

const (
	Preparation Phase = iota
	Running
	Completed
)

func (p Phase) String() string {
	switch p {
	case Preparation:
		return "Preparation"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	default:
		return "Unknown"
	}
}

// DurationMillis is the fixed session length (spec.md §5 "Cancellation &
// timeout"). A var, not a const, so tests can shrink it instead of
// waiting out a real 90s session.
var DurationMillis int64 = 90_000

// These three are vars rather than consts for the same reason as
// DurationMillis: tests shrink them instead of waiting out real timers.
var (
	broadcastInterval  = 4 * time.Second
	sessionDrainDelay  = 2 * time.Second
	acceptPollInterval = 500 * time.Millisecond
)

// Controller is C5.
type Controller struct {
	replicaID  int
	clientPort int
	membership config.Membership
	state      *AuctionState
	ring       *Ring
	log        zerolog.Logger
	metrics    *metrics.Metrics

	mu              sync.Mutex
	sessionCounter  int
	phase           Phase
	startedAtMillis int64
	handlers        map[string]*Handler

	generation atomic.Int64
}

// NewController constructs C5. ring is held as a concrete *Ring, not as
// a LeaderInfo: C5 itself calls only IsLeader and LeaderID on it, and
// passes it to each C4 handler, which calls ReplicateBid. C5 never hands
// C3 a reference back to itself.
func NewController(replicaID, clientPort int, membership config.Membership, state *AuctionState, ring *Ring, log zerolog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		replicaID:  replicaID,
		clientPort: clientPort,
		membership: membership,
		state:      state,
		ring:       ring,
		log:        log,
		metrics:    m,
		handlers:   map[string]*Handler{},
	}
}

// Phase reports the current session phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SessionCounter reports how many sessions this replica has begun.
func (c *Controller) SessionCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionCounter
}

// Run is C5's main loop: it owns ln for the lifetime of the replica,
// repeatedly running one session to completion and then resetting.
func (c *Controller) Run(ln net.Listener) error {
	deadlineLn, pollable := ln.(interface{ SetDeadline(time.Time) error })

	for {
		c.beginSession()
		c.log.Info().Int("session", c.SessionCounter()).Msg("session entering Preparation")

		for {
			if pollable {
				_ = deadlineLn.SetDeadline(time.Now().Add(acceptPollInterval))
			}
			raw, err := ln.Accept()
			if err != nil {
				if isTimeout(err) {
					if c.Phase() == Completed {
						break
					}
					continue
				}
				return err
			}
			c.handleAccept(raw)
			if c.Phase() == Completed {
				break
			}
		}

		time.Sleep(sessionDrainDelay)
		c.reset()
	}
}

func (c *Controller) beginSession() {
	c.mu.Lock()
	c.sessionCounter++
	c.phase = Preparation
	c.handlers = map[string]*Handler{}
	c.mu.Unlock()
}

func (c *Controller) handleAccept(raw net.Conn) {
	conn := NewConn(raw)
	addr := conn.RemoteAddr()

	if !c.ring.IsLeader() {
		c.redirectAway(conn)
		return
	}

	c.mu.Lock()
	phase := c.phase
	empty := len(c.handlers) == 0
	c.mu.Unlock()

	if phase == Preparation && empty {
		c.startSession()
		phase = Running
	}

	startedAt := c.state.StartedAtMillis()
	if startedAt != 0 && nowMillis()-startedAt >= DurationMillis {
		_ = conn.WriteLine(ErrAuctionClosed)
		_ = conn.Close()
		return
	}

	h := NewHandler(c.replicaID, conn, addr, c.state, c.ring, c.log, c.metrics)
	c.mu.Lock()
	c.handlers[addr] = h
	c.mu.Unlock()

	go func() {
		h.Run()
		c.mu.Lock()
		delete(c.handlers, addr)
		c.mu.Unlock()
	}()

	if phase == Running {
		h.PushInicio(DurationMillis / 1000)
	}
}

// redirectAway implements S1: a non-leader replica never accepts a
// bidder session of its own; it points the bidder at the known leader,
// or asks for a retry if the leader is not yet known.
func (c *Controller) redirectAway(conn *Conn) {
	defer conn.Close()
	leaderID := c.ring.LeaderID()
	if leaderID == 0 {
		_ = conn.WriteLine(ErrNoLeaderYet)
		return
	}
	if r, ok := c.membership.Lookup(leaderID); ok {
		_ = conn.WriteLine(FrameRedir(r.Host, r.ClientPort))
		return
	}
	_ = conn.WriteLine(ErrNoLeaderYet)
}

// startSession moves Preparation -> Running and arms the end timer and
// the broadcast timer (spec.md §4.5 "startSession()").
func (c *Controller) startSession() {
	now := nowMillis()
	gen := c.generation.Add(1)

	c.mu.Lock()
	c.phase = Running
	c.startedAtMillis = now
	c.mu.Unlock()

	c.state.Start(now)
	c.log.Info().Int64("duration_ms", DurationMillis).Msg("session running")

	go c.runEndTimer(gen)
	go c.runBroadcastTimer(gen)
}

func (c *Controller) runEndTimer(gen int64) {
	time.Sleep(time.Duration(DurationMillis) * time.Millisecond)
	if c.generation.Load() != gen {
		return // superseded by a reset; stray firing is a no-op
	}
	c.endSession(gen)
}

func (c *Controller) runBroadcastTimer(gen int64) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for range ticker.C {
		if c.generation.Load() != gen || c.Phase() != Running {
			return
		}
		c.broadcastSync()
	}
}

// endSession moves Running -> Completed, determines the winner, and
// broadcasts RESULTADO to every live handler (spec.md §4.5 "endSession()").
func (c *Controller) endSession(expectGen int64) {
	if c.generation.Load() != expectGen {
		return
	}

	c.mu.Lock()
	if c.phase == Completed {
		c.mu.Unlock()
		return
	}
	c.phase = Completed
	handlers := snapshotHandlers(c.handlers)
	c.mu.Unlock()

	c.state.Finish()
	winner, ok := c.state.Winner()
	if !ok {
		c.log.Info().Msg("session ended with no participants")
	} else {
		c.log.Info().Str("winner", winner.Address).Float64("bid", winner.LastBid).Msg("session ended")
	}

	for _, h := range handlers {
		h.NotifyResult(winner.Address, winner.LastBid, ok)
	}
	if c.metrics != nil {
		c.metrics.SessionsCompletedTotal.Inc()
	}
}

func (c *Controller) broadcastSync() {
	c.mu.Lock()
	handlers := snapshotHandlers(c.handlers)
	c.mu.Unlock()

	secsLeft := secsLeftFrom(c.state.StartedAtMillis())
	for _, h := range handlers {
		h.PushSync(secsLeft)
	}
}

func snapshotHandlers(handlers map[string]*Handler) []*Handler {
	out := make([]*Handler, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, h)
	}
	return out
}

// reset returns the controller and C2 to their initial values
// (spec.md §4.5 "reset()"). The generation bump is defensive: any timer
// still in flight from the just-finished session becomes a no-op.
func (c *Controller) reset() {
	c.generation.Add(1)
	c.state.Reset()

	c.mu.Lock()
	c.phase = Preparation
	c.startedAtMillis = 0
	c.handlers = map[string]*Handler{}
	c.mu.Unlock()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
