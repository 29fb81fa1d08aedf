// Package client is a thin SDK over the wire protocol's 0x00 client
// command surface.
//
// Big idea:
//
// The cluster doesn't speak HTTP. Every command — put, get, add-node,
// remove-node — is a single textual line carried in a TagClientCommand
// frame, and every reply is a free-form string carried back the same
// way. This package hides the framing so callers (the kvctl CLI) can
// just call client.Put / client.Get.
//
// A Client talks to exactly one node over one TCP connection. It does
// not implement any distributed logic — that lives in the node itself.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"dynamokv/internal/wire"
)

// Client is a single connection to one node's TCP listener.
type Client struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
}

// New dials addr ("host:port"). timeout bounds both the dial and every
// subsequent command's round trip.
func New(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{addr: addr, timeout: timeout, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// command sends text as a TagClientCommand frame and reads back the
// single reply frame's payload as a string.
func (c *Client) command(text string) (string, error) {
	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", fmt.Errorf("set deadline: %w", err)
		}
	}
	if err := wire.WriteFrame(c.conn, wire.TagClientCommand, []byte(text)); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}
	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(frame.Payload), nil
}

// AddNode asks the node to run an add-node membership change for host.
func (c *Client) AddNode(host string) (string, error) {
	return c.command(fmt.Sprintf("add-node %s", host))
}

// RemoveNode asks the node to run a remove-node membership change for host.
func (c *Client) RemoveNode(host string) (string, error) {
	return c.command(fmt.Sprintf("remove-node %s", host))
}

// Put stores key=value with the given JSON-encoded vector-clock context
// (the context a prior Get returned, or "{}" for a fresh write).
func (c *Client) Put(key, contextJSON, value string) (string, error) {
	return c.command(fmt.Sprintf("put %s %s %s", key, contextJSON, value))
}

// Get retrieves the sibling set for key as the coordinator's free-form
// response text.
func (c *Client) Get(key string) (string, error) {
	return c.command(fmt.Sprintf("get %s", key))
}
