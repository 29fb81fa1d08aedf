// Package wire implements the node-to-node and client-to-node wire
// protocol: a length-prefixed binary frame plus the tagged message
// catalogue that the dispatcher routes on (spec §4.1).
//
// Every message on the wire is:
//
//	[1-byte tag | 4-byte big-endian length | length bytes payload]
//
// The payload itself is a JSON-encoded tuple, private to this package —
// callers only ever see the decoded Go struct for a given tag.
package wire

// Tag identifies the kind of message in a frame's first byte. The tag
// set is a closed enumeration (spec §9: "a tagged-variant type with
// exhaustive matching replaces the runtime dictionary").
type Tag byte

const (
	// TagClientCommand carries a textual client command: add-node,
	// remove-node, put, get.
	TagClientCommand Tag = 0x00

	// TagMembershipPrepare is the leader's 2PC prepare message.
	TagMembershipPrepare Tag = 0x01

	// TagMembershipOK is a follower's vote in response to a prepare.
	TagMembershipOK Tag = 0xFF

	// TagMembershipCommit is the leader's 2PC commit message.
	TagMembershipCommit Tag = 0x10

	// TagGetFile asks a replica to read a key locally.
	TagGetFile Tag = 0x07

	// TagStoreFile asks a replica to write a key locally.
	TagStoreFile Tag = 0x08

	// TagStoreFileResponse is a replica's reply to TagStoreFile.
	TagStoreFileResponse Tag = 0x70

	// TagGetFileResponse is a replica's reply to TagGetFile.
	TagGetFileResponse Tag = 0x80

	// TagForwardedRequest carries a Request forwarded from a non-owning
	// node to the leader, or from the leader to the owning node.
	TagForwardedRequest Tag = 0x0A

	// TagResponseForForward carries the repackaged reply to a forwarded
	// request, flowing back toward the original sender.
	TagResponseForForward Tag = 0x0B

	// TagHandoff wraps a replica write together with its set of intended
	// final recipients, addressed to a hinted-handoff holder.
	TagHandoff Tag = 0x0C
)

// String renders a tag for logging.
func (t Tag) String() string {
	switch t {
	case TagClientCommand:
		return "client-command"
	case TagMembershipPrepare:
		return "membership-prepare"
	case TagMembershipOK:
		return "membership-ok"
	case TagMembershipCommit:
		return "membership-commit"
	case TagGetFile:
		return "get-file"
	case TagStoreFile:
		return "store-file"
	case TagStoreFileResponse:
		return "store-file-response"
	case TagGetFileResponse:
		return "get-file-response"
	case TagForwardedRequest:
		return "forwarded-request"
	case TagResponseForForward:
		return "response-for-forward"
	case TagHandoff:
		return "handoff"
	default:
		return "unknown"
	}
}
