package node

// handler.go is C4 — one instance per accepted bidder connection. It owns
// the bidder's socket exclusively: every read and every write to that
// bidder happens here, which is what lets the session controller (C5)
// push SYNC/RESULTADO frames without ever touching another handler's
// connection directly.
//
// Grounded on the teacher's handlers.go, which ran one goroutine per
// accepted RPC client and serialized that client's calls; the same
// one-goroutine-per-bidder shape is kept, generalized from RPC dispatch
// to line-framed command parsing.

import (
	"sync"
	"time"

	"auctionring/internal/telemetry/metrics"

	"github.com/rs/zerolog"
)

// Handler is C4.
type Handler struct {
	replicaID int
	conn      *Conn
	addr      string
	state     *AuctionState
	ring      *Ring
	log       zerolog.Logger
	metrics   *metrics.Metrics

	lastLocalBid float64 // display-only; C2 is the authority (spec.md §4.4 step 3)

	notifyOnce sync.Once
	notifyCh   chan struct{}
}

// NewHandler constructs C4 for one freshly accepted bidder connection.
func NewHandler(replicaID int, conn *Conn, addr string, state *AuctionState, ring *Ring, log zerolog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		replicaID: replicaID,
		conn:      conn,
		addr:      addr,
		state:     state,
		ring:      ring,
		log:       log,
		metrics:   m,
		notifyCh:  make(chan struct{}),
	}
}

// Run executes the bidder's read loop until it ends (EOF, SALIR, or the
// session is no longer Running), then blocks for the final-result
// notification exactly once before closing the socket (spec.md §4.4
// "Shutdown contract").
func (h *Handler) Run() {
	h.readLoop()
	<-h.notifyCh
	_ = h.conn.Close()
}

func (h *Handler) readLoop() {
	for {
		if !h.state.Active() {
			return
		}
		line, err := h.conn.ReadLine()
		if err != nil {
			return
		}
		if IsExitCommand(line) {
			h.log.Info().Str("addr", h.addr).Msg("bidder left voluntarily")
			return
		}
		h.handleBid(line)
	}
}

func (h *Handler) handleBid(line string) {
	amount, errFrame := ParseBid(line)
	if errFrame != "" {
		_ = h.conn.WriteLine(errFrame)
		h.countOutcome("rejected")
		return
	}

	h.lastLocalBid = amount
	isNewHigh := h.state.Register(amount, h.addr, nowMillis())
	if isNewHigh {
		h.ring.ReplicateBid(amount, h.addr)
		h.countOutcome("accepted")
	} else {
		h.countOutcome("outbid")
	}

	secsLeft := secsLeftFrom(h.state.StartedAtMillis())
	if err := h.conn.WriteLine(FrameConf(h.addr, amount, secsLeft, isNewHigh)); err != nil {
		h.log.Debug().Str("addr", h.addr).Err(err).Msg("confirmation write failed")
	}
}

func (h *Handler) countOutcome(outcome string) {
	if h.metrics != nil {
		h.metrics.BidsTotal.WithLabelValues(outcome).Inc()
	}
}

// PushInicio sends the session-start push (spec.md §4.4).
func (h *Handler) PushInicio(durationSecs int64) {
	if err := h.conn.WriteLine(FrameInicio(durationSecs)); err != nil {
		h.log.Debug().Str("addr", h.addr).Err(err).Msg("inicio push failed")
	}
}

// PushSync sends one periodic broadcast push of the current global high
// bid (spec.md §4.4; the address carried is the high bidder's, not this
// handler's own bidder).
func (h *Handler) PushSync(secsLeft int64) {
	frame := FrameSync(h.state.HighBidder(), h.state.HighBid(), secsLeft)
	if err := h.conn.WriteLine(frame); err != nil {
		h.log.Debug().Str("addr", h.addr).Err(err).Msg("sync push failed")
	}
}

// NotifyResult delivers the end-of-session outcome exactly once
// (spec.md §8 invariant 6: "a handler emits RESULTADO at most once").
// hasWinner=false means the session had no participants; the handler is
// still released from its shutdown wait, just without a RESULTADO frame.
func (h *Handler) NotifyResult(winnerAddr string, winnerBid float64, hasWinner bool) {
	h.notifyOnce.Do(func() {
		if hasWinner {
			if err := h.conn.WriteLine(FrameResultado(winnerAddr, winnerBid)); err != nil {
				h.log.Debug().Str("addr", h.addr).Err(err).Msg("resultado write failed")
			}
		}
		// The session is over: force-unblock readLoop if it's parked in
		// ReadLine waiting on a bidder who went silent after its last bid
		// (spec.md §4.4 shutdown contract), instead of leaking the socket
		// and goroutine until that bidder eventually disconnects itself.
		_ = h.conn.CloseRead()
		close(h.notifyCh)
	})
}

// secsLeftFrom computes seconds remaining in the session from its start
// time; 0 once the deadline has passed. startedAtMillis=0 (not yet
// started) also yields 0, since the elapsed time is then measured from
// the Unix epoch.
func secsLeftFrom(startedAtMillis int64) int64 {
	elapsedMs := nowMillis() - startedAtMillis
	leftMs := DurationMillis - elapsedMs
	if leftMs < 0 {
		return 0
	}
	return leftMs / int64(time.Second/time.Millisecond)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
