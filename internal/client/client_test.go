package client

import (
	"context"
	"net"
	"testing"
	"time"

	"dynamokv/internal/wire"
)

// startEchoServer listens on 127.0.0.1:0, reads one client command frame
// per accepted connection, and replies with reply.
func startEchoServer(t *testing.T, reply func(cmd string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				frame, err := wire.ReadFrame(c)
				if err != nil {
					return
				}
				resp := reply(string(frame.Payload))
				_ = wire.WriteFrame(c, wire.TagResponseForForward, []byte(resp))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestPutSendsFormattedCommandAndReturnsReply(t *testing.T) {
	var got string
	addr := startEchoServer(t, func(cmd string) string {
		got = cmd
		return "stored k"
	})

	c, err := New(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	reply, err := c.Put("k", "{}", "v")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if reply != "stored k" {
		t.Fatalf("expected reply %q, got %q", "stored k", reply)
	}
	if got != "put k {} v" {
		t.Fatalf("expected command %q, got %q", "put k {} v", got)
	}
}

func TestGetSendsFormattedCommand(t *testing.T) {
	var got string
	addr := startEchoServer(t, func(cmd string) string {
		got = cmd
		return "[v1]"
	})

	c, err := New(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	reply, err := c.Get("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reply != "[v1]" {
		t.Fatalf("expected reply %q, got %q", "[v1]", reply)
	}
	if got != "get k" {
		t.Fatalf("expected command %q, got %q", "get k", got)
	}
}

func TestAddNodeAndRemoveNodeFormatCommands(t *testing.T) {
	var commands []string
	addr := startEchoServer(t, func(cmd string) string {
		commands = append(commands, cmd)
		return "ok"
	})

	c, err := New(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := c.AddNode("D"); err != nil {
		t.Fatalf("add-node: %v", err)
	}
	c.Close()

	c2, err := New(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c2.Close()
	if _, err := c2.RemoveNode("D"); err != nil {
		t.Fatalf("remove-node: %v", err)
	}

	if len(commands) != 2 || commands[0] != "add-node D" || commands[1] != "remove-node D" {
		t.Fatalf("unexpected commands: %v", commands)
	}
}

func TestDialFailureReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", 50*time.Millisecond); err == nil {
		t.Fatalf("expected dial error for unreachable port")
	}
}
