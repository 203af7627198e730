package respserver

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func startTestServer(t *testing.T, hcfg HandlerConfig) *Server {
	t.Helper()
	h := newTestHandler(t, hcfg)
	srv := New(&Config{
		Addr:           "127.0.0.1:0",
		MaxConnections: 8,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
		IdleTimeout:    5 * time.Second,
		Workers:        2,
	}, h, nil, nil)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func dialTest(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendRaw(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readReply(t *testing.T, br *bufio.Reader) string {
	t.Helper()
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	switch line[0] {
	case '$':
		if line == "$-1\r\n" {
			return line
		}
		n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
		if err != nil {
			t.Fatalf("bad bulk header %q", line)
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(br, buf); err != nil {
			t.Fatalf("read bulk: %v", err)
		}
		return line + string(buf)
	default:
		return line
	}
}

func TestServerPingPong(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "*1\r\n$4\r\nPING\r\n")
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Fatalf("reply = %q, want +PONG", got)
	}
}

func TestServerSetThenGet(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "*3\r\n$3\r\nSET\r\n$2\r\n42\r\n$5\r\nhello\r\n")
	if got := readReply(t, br); got != "+OK\r\n" {
		t.Fatalf("SET reply = %q, want +OK", got)
	}
	sendRaw(t, conn, "*2\r\n$3\r\nGET\r\n$2\r\n42\r\n")
	if got := readReply(t, br); got != "$5\r\nhello\r\n" {
		t.Fatalf("GET reply = %q", got)
	}
}

func TestServerReplyOrderMatchesCommandOrder(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	// Pipeline several commands; replies must come back in order.
	sendRaw(t, conn,
		"*3\r\n$3\r\nSET\r\n$1\r\n1\r\n$1\r\na\r\n"+
			"*3\r\n$3\r\nSET\r\n$1\r\n1\r\n$1\r\nb\r\n"+
			"*2\r\n$6\r\nEXISTS\r\n$1\r\n1\r\n")

	if got := readReply(t, br); got != "+OK\r\n" {
		t.Fatalf("first SET = %q", got)
	}
	if got := readReply(t, br); got != "-ERR failed to set key\r\n" {
		t.Fatalf("second SET = %q", got)
	}
	if got := readReply(t, br); got != ":1\r\n" {
		t.Fatalf("EXISTS = %q", got)
	}
}

func TestServerInlineCommand(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "PING\r\n")
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Fatalf("inline PING = %q", got)
	}
}

func TestServerQuitClosesConnection(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "*1\r\n$4\r\nQUIT\r\n")
	if got := readReply(t, br); got != "+OK\r\n" {
		t.Fatalf("QUIT = %q", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("connection still open after QUIT: %v", err)
	}
}

func TestServerMalformedFrameClosesConnection(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "*1\r\n$x\r\n")
	reply, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read error reply: %v", err)
	}
	if reply[0] != '-' {
		t.Fatalf("reply = %q, want protocol error", reply)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err != io.EOF {
		t.Fatalf("connection still open after protocol error: %v", err)
	}
}

func TestServerShutdownClosesClients(t *testing.T) {
	srv := startTestServer(t, HandlerConfig{})
	conn, br := dialTest(t, srv)

	sendRaw(t, conn, "*1\r\n$4\r\nPING\r\n")
	if got := readReply(t, br); got != "+PONG\r\n" {
		t.Fatalf("PING = %q", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadByte(); err == nil {
		t.Fatalf("connection still open after shutdown")
	}
}
