package main

import (
	"fmt"
	"net"
	"strings"

	"dynamokv/internal/coordinator"
	"dynamokv/internal/membership"
	"dynamokv/internal/store"
	"dynamokv/internal/wire"
)

// handleClientCommand parses a textual command off tag 0x00 and dispatches
// it to the membership manager or the coordinator, replying with the
// free-form result text on a responseForForward frame.
func handleClientCommand(conn net.Conn, payload []byte, mem *membership.Manager, coord *coordinator.Coordinator) {
	reply(conn, dispatchCommand(string(payload), mem, coord))
}

func dispatchCommand(line string, mem *membership.Manager, coord *coordinator.Coordinator) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "error: empty command"
	}

	switch fields[0] {
	case "add-node":
		if len(fields) != 2 {
			return "error: usage: add-node <host>"
		}
		return mem.AddNode(fields[1])

	case "remove-node":
		if len(fields) != 2 {
			return "error: usage: remove-node <host>"
		}
		return mem.RemoveNode(fields[1])

	case "put":
		if len(fields) < 4 {
			return "error: usage: put <key> <prev_context_json> <value>"
		}
		key, ctxJSON := fields[1], fields[2]
		value := strings.Join(fields[3:], " ")

		ctx, err := wire.Decode[store.Context](([]byte)(ctxJSON))
		if err != nil {
			return fmt.Sprintf("error: malformed context: %v", err)
		}
		return coord.Put(key, ctx, value)

	case "get":
		if len(fields) != 2 {
			return "error: usage: get <key>"
		}
		return coord.Get(fields[1])

	default:
		return fmt.Sprintf("error: unknown command %q", fields[0])
	}
}

// reply writes text as the raw payload, which internal/client returns to
// its caller unchanged.
func reply(conn net.Conn, text string) {
	_ = wire.WriteFrame(conn, wire.TagResponseForForward, []byte(text))
}
