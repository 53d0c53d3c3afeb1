package engine

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeEngine is a minimal telnet-protocol stub: it replies to
// request.all with a single request id, and to request.metadata with a
// canned metadata block, always terminated with "END".
func fakeEngine(t *testing.T, ln net.Listener, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			reader := bufio.NewReader(c)
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				cmd := strings.TrimSpace(line)
				switch {
				case cmd == "request.all":
					c.Write([]byte("1\nEND\n"))
				case strings.HasPrefix(cmd, "request.metadata"):
					c.Write([]byte("title=\"Test Song\"\nartist=\"Test Artist\"\nEND\n"))
				default:
					c.Write([]byte("END\n"))
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}(conn)
	}
}

func TestClientNowReturnsCurrentTrack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	stop := make(chan struct{})
	go fakeEngine(t, ln, stop)
	defer close(stop)

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	c := New(Config{
		Host:           host,
		Port:           port,
		QueueName:      "dj_queue",
		CmdTimeout:     time.Second,
		EnqueueTimeout: time.Second,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   100 * time.Millisecond,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := c.Now(ctx)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if info.Title != "Test Song" || info.Artist != "Test Artist" {
		t.Fatalf("unexpected track info: %+v", info)
	}
}

func TestClientSurvivesEngineBlip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	stop := make(chan struct{})
	go fakeEngine(t, ln, stop)

	host, port, _ := net.SplitHostPort(addr)
	c := New(Config{
		Host:           host,
		Port:           port,
		QueueName:      "dj_queue",
		CmdTimeout:     500 * time.Millisecond,
		EnqueueTimeout: 500 * time.Millisecond,
		ReconnectMin:   10 * time.Millisecond,
		ReconnectMax:   50 * time.Millisecond,
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	if _, err := c.Now(ctx); err != nil {
		cancel()
		t.Fatalf("expected initial Now to succeed, got %v", err)
	}
	cancel()

	// Simulate the engine going away mid-session.
	close(stop)
	ln.Close()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	_, err = c.Now(ctx2)
	cancel2()
	if err == nil {
		t.Fatal("expected an error while the engine is down")
	}

	// Bring the engine back on the same address and confirm recovery.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer ln2.Close()
	stop2 := make(chan struct{})
	go fakeEngine(t, ln2, stop2)
	defer close(stop2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctx3, cancel3 := context.WithTimeout(context.Background(), 300*time.Millisecond)
		_, err := c.Now(ctx3)
		cancel3()
		if err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("client never recovered after engine came back")
}
