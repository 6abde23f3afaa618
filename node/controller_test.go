package node

import (
	"bufio"
	"net"
	"testing"
	"time"

	"auctionring/internal/config"
	"auctionring/internal/telemetry/logging"
)

func newTestController(t *testing.T, id int, ring *Ring) (*Controller, *AuctionState) {
	t.Helper()
	state := NewAuctionState()
	return NewController(id, 9090+id, config.Default(), state, ring, logging.Log, nil), state
}

func TestPhaseString(t *testing.T) {
	if Preparation.String() != "Preparation" || Running.String() != "Running" || Completed.String() != "Completed" {
		t.Fatal("unexpected Phase.String() output")
	}
}

func TestHandleAcceptStartsSessionAndPushesInicio(t *testing.T) {
	ring := testRing(1)
	ring.StartElection() // lone replica always becomes leader
	c, _ := newTestController(t, 1, ring)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	clientDone := make(chan string, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			clientDone <- ""
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		clientDone <- line
	}()

	raw, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	c.handleAccept(raw)

	if c.Phase() != Running {
		t.Fatalf("first accepted connection must start the session, phase=%v", c.Phase())
	}

	line := <-clientDone
	if len(line) < 6 || line[:6] != "INICIO" {
		t.Fatalf("expected INICIO push, got %q", line)
	}

	c.state.Finish()
	c.mu.Lock()
	for _, h := range c.handlers {
		h.NotifyResult("", 0, false)
	}
	c.mu.Unlock()
}

func TestHandleAcceptRedirectsNonLeader(t *testing.T) {
	ring := testRing(1)
	ring.mu.Lock()
	ring.leaderID = 2
	ring.peerAddr[2] = "127.0.0.1:10092"
	ring.mu.Unlock()

	c, _ := newTestController(t, 1, ring)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	clientDone := make(chan string, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			clientDone <- ""
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		clientDone <- line
	}()

	raw, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	c.handleAccept(raw)

	line := <-clientDone
	host, port, ok := ParseRedir(trimNL(line))
	if !ok {
		t.Fatalf("expected a REDIR frame, got %q", line)
	}
	if host != "localhost" || port != 9092 {
		t.Fatalf("unexpected redirect target host=%s port=%d", host, port)
	}
	if len(c.handlers) != 0 {
		t.Fatal("a redirected connection must not spawn a handler")
	}
}

func TestHandleAcceptRejectsLateJoiner(t *testing.T) {
	ring := testRing(1)
	ring.StartElection()
	c, state := newTestController(t, 1, ring)

	c.mu.Lock()
	c.phase = Running
	c.startedAtMillis = nowMillis() - DurationMillis - 1000
	c.mu.Unlock()
	state.Start(c.startedAtMillis)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	clientDone := make(chan string, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			clientDone <- ""
			return
		}
		defer conn.Close()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		clientDone <- line
	}()

	raw, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	c.handleAccept(raw)

	line := trimNL(<-clientDone)
	if line != ErrAuctionClosed {
		t.Fatalf("expected %q, got %q", ErrAuctionClosed, line)
	}
	if len(c.handlers) != 0 {
		t.Fatal("a late joiner must not get a handler")
	}
}

func TestControllerFullLifecycleSingleBidder(t *testing.T) {
	origDuration := DurationMillis
	origDrain := sessionDrainDelay
	origPoll := acceptPollInterval
	DurationMillis = 200
	sessionDrainDelay = 50 * time.Millisecond
	acceptPollInterval = 10 * time.Millisecond
	t.Cleanup(func() {
		DurationMillis = origDuration
		sessionDrainDelay = origDrain
		acceptPollInterval = origPoll
	})

	ring := testRing(1)
	ring.StartElection()
	c, _ := newTestController(t, 1, ring)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go c.Run(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reader := bufio.NewReader(conn)

	inicio, err := reader.ReadString('\n')
	if err != nil || trimNL(inicio)[:6] != "INICIO" {
		t.Fatalf("expected INICIO, got %q err=%v", inicio, err)
	}

	if _, err := conn.Write([]byte("75\n")); err != nil {
		t.Fatal(err)
	}
	conf, err := reader.ReadString('\n')
	if err != nil || !containsSubstr(conf, "ESTADO:LIDER") {
		t.Fatalf("expected CONF ... LIDER, got %q err=%v", conf, err)
	}

	var resultado string
	for i := 0; i < 5; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("expected RESULTADO before stream ended: %v", err)
		}
		if len(line) >= 9 && line[:9] == "RESULTADO" {
			resultado = trimNL(line)
			break
		}
	}
	if resultado == "" {
		t.Fatal("never received RESULTADO")
	}
	if !containsSubstr(resultado, "OFERTA:75.0") {
		t.Fatalf("unexpected resultado: %q", resultado)
	}
}

func trimNL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
