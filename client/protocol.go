// Package client is Cx — the bidder-facing client runtime: candidate-list
// failover, a receiver goroutine, and a synchronous bid-confirmation
// rendezvous.
//
// protocol.go parses the server->bidder frames (the inverse of
// node/wire.go's formatters). Addresses embedded in frames are host:port
// literals, so fields are located by anchor substrings ("TIEMPO:",
// "ESTADO:", "OFERTA:") rather than naive colon-splitting — the same
// trick node.ParseRedir uses for the same reason.
package client

import (
	"strconv"
	"strings"
)

// Confirmation is InfoEstado — the parsed form of a CONF frame.
type Confirmation struct {
	Addr     string
	Bid      float64
	SecsLeft int64
	IsLeader bool
}

// Result is the parsed form of a RESULTADO frame.
type Result struct {
	WinnerAddr string
	WinnerBid  float64
}

func parseInicio(line string) (durationSecs int64, ok bool) {
	rest, found := strings.CutPrefix(line, "INICIO:DURACION:")
	if !found {
		return 0, false
	}
	v, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseConf(line string) (Confirmation, bool) {
	rest, found := strings.CutPrefix(line, "CONF:OFERTA_MAX:")
	if !found {
		return Confirmation{}, false
	}
	addr, bid, tail, ok := cutAddrBid(rest, ":TIEMPO:")
	if !ok {
		return Confirmation{}, false
	}
	secsStr, estado, ok := cutOnce(tail, ":ESTADO:")
	if !ok {
		return Confirmation{}, false
	}
	secsLeft, err := strconv.ParseInt(secsStr, 10, 64)
	if err != nil {
		return Confirmation{}, false
	}
	return Confirmation{Addr: addr, Bid: bid, SecsLeft: secsLeft, IsLeader: estado == "LIDER"}, true
}

func parseSync(line string) (Confirmation, bool) {
	rest, found := strings.CutPrefix(line, "SYNC:OFERTA_MAX:")
	if !found {
		return Confirmation{}, false
	}
	addr, bid, secsStr, ok := cutAddrBid(rest, ":TIEMPO:")
	if !ok {
		return Confirmation{}, false
	}
	secsLeft, err := strconv.ParseInt(secsStr, 10, 64)
	if err != nil {
		return Confirmation{}, false
	}
	return Confirmation{Addr: addr, Bid: bid, SecsLeft: secsLeft}, true
}

func parseResultado(line string) (Result, bool) {
	rest, found := strings.CutPrefix(line, "RESULTADO:")
	if !found {
		return Result{}, false
	}
	addr, bidStr, ok := cutOnce(rest, ":OFERTA:")
	if !ok {
		return Result{}, false
	}
	bid, err := strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return Result{}, false
	}
	return Result{WinnerAddr: addr, WinnerBid: bid}, true
}

// cutAddrBid splits "<addr>:<bid><sep><tail>" where addr itself may
// contain colons; bid never does, so the last colon before sep is the
// addr/bid boundary.
func cutAddrBid(s, sep string) (addr string, bid float64, tail string, ok bool) {
	addrBid, rest, ok := cutOnce(s, sep)
	if !ok {
		return "", 0, "", false
	}
	last := strings.LastIndex(addrBid, ":")
	if last < 0 {
		return "", 0, "", false
	}
	b, err := strconv.ParseFloat(addrBid[last+1:], 64)
	if err != nil {
		return "", 0, "", false
	}
	return addrBid[:last], b, rest, true
}

func cutOnce(s, sep string) (before, after string, ok bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
