package node

// replica.go assembles C2 (AuctionState), C3 (Ring), and C5 (Controller,
// which owns C4 handlers internally) into one runnable replica process.
// It replaces the teacher's flat Node type (node.go), which constructed
// everything inline inside NewNode/Start; here each component already
// has its own constructor, so replica.go's job is just wiring plus the
// two listener sockets spec.md §6.3 calls for (bidder-facing and
// peer-facing, never shared).

import (
	"fmt"
	"net"

	"auctionring/internal/config"
	"auctionring/internal/telemetry/logging"
	"auctionring/internal/telemetry/metrics"

	"github.com/rs/zerolog"
)

// Replica is one running ring member.
type Replica struct {
	ID         int
	self       config.Replica
	membership config.Membership

	State      *AuctionState
	Ring       *Ring
	Controller *Controller

	log zerolog.Logger
}

// NewReplica constructs a replica's components without starting any
// goroutines or sockets; call Run to actually bootstrap and serve.
func NewReplica(id int, membership config.Membership, m *metrics.Metrics) (*Replica, error) {
	self, ok := membership.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("replica id %d is not present in the membership table", id)
	}

	state := NewAuctionState()
	ring := NewRing(id, self.Host, state, logging.Ring(id), m)
	controller := NewController(id, self.ClientPort, membership, state, ring, logging.Session(id), m)

	return &Replica{
		ID:         id,
		self:       self,
		membership: membership,
		State:      state,
		Ring:       ring,
		Controller: controller,
		log:        logging.Replica(id),
	}, nil
}

// Run bootstraps the ring (dialing peers, running the initial election),
// binds the bidder-facing listener, and blocks running auction sessions
// until the controller or an I/O error ends it.
func (rep *Replica) Run() error {
	peers := map[int]string{}
	for _, p := range rep.membership.Peers(rep.ID) {
		peers[p.ID] = p.PeerAddr()
	}

	if err := rep.Ring.Bootstrap(rep.self.PeerPort(), peers); err != nil {
		return fmt.Errorf("bootstrap ring: %w", err)
	}
	defer rep.Ring.Stop()

	ln, err := net.Listen("tcp", rep.self.ClientAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", rep.self.ClientAddr(), err)
	}
	defer ln.Close()

	rep.log.Info().
		Str("bidder_addr", rep.self.ClientAddr()).
		Str("peer_addr", rep.self.PeerAddr()).
		Msg("replica up, awaiting bidders")

	return rep.Controller.Run(ln)
}
