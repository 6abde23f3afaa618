package client

// client.go is Cx — a failover-aware bidder client. It reuses C1's
// line-framed Conn for its own socket, since the wire format on both ends
// of a bidder connection is the same newline-terminated protocol.
//
// Grounded on the teacher's client.go (an RPCClient wrapping net/rpc's
// DialHTTP+Call), generalized from a one-shot RPC call into a long-lived
// connection with a dedicated receiver goroutine, a synchronous
// confirmation rendezvous, and the failover loop spec.md §4.6 describes —
// none of which a stateless RPC client needs.

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"auctionring/node"

	"github.com/rs/zerolog"
)

// These are vars, not consts, so tests can shrink the timeouts instead of
// waiting out real 10s/5s waits.
var (
	dialTimeout        = 3 * time.Second
	bidWaitTimeout     = 10 * time.Second
	reconnectSpacing   = 5 * time.Second
	maxReconnectRounds = 3
)

// ErrAllCandidatesUnreachable is returned by Connect when no candidate answers.
var ErrAllCandidatesUnreachable = errors.New("client: no candidate server reachable")

// ErrReconnectFailed is returned by Bid when failover exhausts its retries.
var ErrReconnectFailed = errors.New("client: reconnect failed after all retries")

// ErrConfirmationTimeout is returned when no CONF/ERR arrives in time, even
// after a successful reconnect.
var ErrConfirmationTimeout = errors.New("client: timed out waiting for confirmation")

// ServerError wraps an ERR:... frame from the server.
type ServerError struct{ Frame string }

func (e *ServerError) Error() string { return e.Frame }

type confOutcome struct {
	conf Confirmation
	err  *ServerError
}

// Client is Cx.
type Client struct {
	log zerolog.Logger

	mu         sync.Mutex
	candidates []string
	currentIdx int
	conn       *node.Conn
	active     bool
	lastBid    float64
	haveBid    bool

	confCh chan confOutcome

	resultOnce sync.Once
	doneCh     chan struct{}
	result     Result

	// OnInicio/OnSync are optional UI hooks; nil is fine (headless use).
	OnInicio func(durationSecs int64)
	OnSync   func(c Confirmation)
}

// New constructs a client over a static candidate list ("host:port" each).
func New(candidates []string, log zerolog.Logger) *Client {
	return &Client{
		log:        log,
		candidates: candidates,
		confCh:     make(chan confOutcome, 1),
		doneCh:     make(chan struct{}),
	}
}

// Connect iterates candidates starting at startIdx, wrapping once; the
// first successful dial becomes the active server (spec.md §4.6
// "Connection").
func (c *Client) Connect(startIdx int) error {
	n := len(c.candidates)
	if n == 0 {
		return ErrAllCandidatesUnreachable
	}
	for i := 0; i < n; i++ {
		idx := (startIdx + i) % n
		addr := c.candidates[idx]
		conn, err := node.DialTimeout(addr, dialTimeout)
		if err != nil {
			c.log.Warn().Str("addr", addr).Err(err).Msg("candidate unreachable")
			continue
		}
		c.mu.Lock()
		c.currentIdx = idx
		c.conn = conn
		c.active = true
		c.mu.Unlock()
		go c.receiveLoop()
		return nil
	}
	return ErrAllCandidatesUnreachable
}

// Bid performs the synchronous bid-confirmation rendezvous (spec.md §4.6
// "Bid submission").
func (c *Client) Bid(amount float64) (Confirmation, error) {
	c.drainConf()
	if err := c.writeLine(formatAmount(amount)); err != nil {
		if !c.reconnect() {
			return Confirmation{}, ErrReconnectFailed
		}
	}
	c.mu.Lock()
	c.lastBid = amount
	c.haveBid = true
	c.mu.Unlock()

	outcome, ok := c.waitConf(bidWaitTimeout)
	if ok {
		return deliverOrErr(outcome)
	}

	// Timeout: one reconnect attempt, then one more wait (spec.md §4.6 step 4).
	if !c.reconnect() {
		return Confirmation{}, ErrReconnectFailed
	}
	outcome, ok = c.waitConf(bidWaitTimeout)
	if !ok {
		return Confirmation{}, ErrConfirmationTimeout
	}
	return deliverOrErr(outcome)
}

func deliverOrErr(o confOutcome) (Confirmation, error) {
	if o.err != nil {
		return Confirmation{}, o.err
	}
	return o.conf, nil
}

func (c *Client) waitConf(timeout time.Duration) (confOutcome, bool) {
	select {
	case o := <-c.confCh:
		return o, true
	case <-time.After(timeout):
		return confOutcome{}, false
	}
}

// AwaitResult blocks up to timeout for the session's final RESULTADO.
func (c *Client) AwaitResult(timeout time.Duration) (Result, bool) {
	select {
	case <-c.doneCh:
		return c.result, true
	case <-time.After(timeout):
		return Result{}, false
	}
}

func (c *Client) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Client) writeLine(line string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("client: not connected")
	}
	return conn.WriteLine(line)
}

func (c *Client) drainConf() {
	select {
	case <-c.confCh:
	default:
	}
}

func (c *Client) deliverConf(o confOutcome) {
	select {
	case c.confCh <- o:
	default:
		c.drainConf()
		select {
		case c.confCh <- o:
		default:
		}
	}
}

// receiveLoop is Cx's receiver thread (spec.md §4.6 "Receiver thread").
func (c *Client) receiveLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			if c.isActive() {
				c.reconnect() // spawns a replacement receiveLoop on success
			}
			return
		}
		c.dispatch(line)
	}
}

func (c *Client) dispatch(line string) {
	switch {
	case strings.HasPrefix(line, "INICIO:"):
		if secs, ok := parseInicio(line); ok && c.OnInicio != nil {
			c.OnInicio(secs)
		}

	case strings.HasPrefix(line, "SYNC:"):
		if conf, ok := parseSync(line); ok && c.OnSync != nil {
			c.OnSync(conf)
		}

	case strings.HasPrefix(line, "CONF:"):
		if conf, ok := parseConf(line); ok {
			c.deliverConf(confOutcome{conf: conf})
		}

	case strings.HasPrefix(line, "ERR:"):
		c.deliverConf(confOutcome{err: &ServerError{Frame: line}})

	case strings.HasPrefix(line, "REDIR:"):
		c.handleRedir(line)

	case strings.HasPrefix(line, "RESULTADO:"):
		if result, ok := parseResultado(line); ok {
			c.finish(result)
		}
	}
}

// handleRedir implements the client side of S1: point currentIdx at the
// announced leader and slam the socket shut, letting the existing
// failover path (reconnect) do the actual redial.
func (c *Client) handleRedir(line string) {
	host, port, ok := node.ParseRedir(line)
	if !ok {
		return
	}
	target := fmt.Sprintf("%s:%d", host, port)

	c.mu.Lock()
	idx := -1
	for i, cand := range c.candidates {
		if cand == target {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.candidates = append(c.candidates, target)
		idx = len(c.candidates) - 1
	}
	c.currentIdx = (idx - 1 + len(c.candidates)) % len(c.candidates)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) finish(r Result) {
	c.resultOnce.Do(func() {
		c.mu.Lock()
		c.active = false
		conn := c.conn
		c.mu.Unlock()
		c.result = r
		// spec.md §4.6: RESULTADO stops the receiver. Closing here (rather
		// than waiting for the server to hang up) makes receiveLoop's next
		// ReadLine fail immediately instead of blocking forever, and
		// isActive() is already false so it won't try to reconnect.
		if conn != nil {
			_ = conn.Close()
		}
		close(c.doneCh)
	})
}

// reconnect is the Failover procedure (spec.md §4.6): close, advance to
// the next candidate, redial up to maxReconnectRounds times spaced
// reconnectSpacing apart, then re-send the last bid and restart the
// receiver thread.
func (c *Client) reconnect() bool {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	n := len(c.candidates)
	c.mu.Unlock()
	if n == 0 {
		return false
	}

	for attempt := 0; attempt < maxReconnectRounds; attempt++ {
		c.mu.Lock()
		c.currentIdx = (c.currentIdx + 1) % n
		addr := c.candidates[c.currentIdx]
		c.mu.Unlock()

		conn, err := node.DialTimeout(addr, dialTimeout)
		if err != nil {
			c.log.Warn().Str("addr", addr).Int("attempt", attempt+1).Err(err).Msg("reconnect attempt failed")
			if attempt < maxReconnectRounds-1 {
				time.Sleep(reconnectSpacing)
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.active = true
		lastBid, haveBid := c.lastBid, c.haveBid
		c.mu.Unlock()

		go c.receiveLoop()
		if haveBid {
			_ = conn.WriteLine(formatAmount(lastBid))
		}
		return true
	}

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	return false
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
