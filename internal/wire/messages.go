package wire

import (
	"fmt"

	"dynamokv/internal/store"

	"github.com/bytedance/sonic"
)

// MembershipOp identifies which membership change a 2PC round is
// driving (spec §3 "Membership Operation State").
type MembershipOp int

const (
	OpAdd    MembershipOp = 1
	OpRemove MembershipOp = 2
)

// Prepare is the leader's 0x01 message: "I'm about to change membership,
// vote OK." view is carried but currently never incremented (spec §9 —
// reserved for future leader election, not a bug to fix here).
type Prepare struct {
	View  int64        `json:"view"`
	ReqID int64        `json:"req_id"`
	Op    MembershipOp `json:"op"`
	Host  string       `json:"host"`
}

// OK is a follower's unconditional 0xFF vote in response to a Prepare.
// From identifies the voter so the leader can count votes with set
// semantics — a retransmitted duplicate from the same host must not be
// counted twice (spec §4.3 edge policies).
type OK struct {
	View  int64  `json:"view"`
	ReqID int64  `json:"req_id"`
	From  string `json:"from"`
}

// Commit is the leader's 0x10 message carrying the authoritative
// post-change host list.
type Commit struct {
	View  int64        `json:"view"`
	Op    MembershipOp `json:"op"`
	Hosts []string     `json:"hosts"`
}

// GetFile is the 0x07 replica read request. CorrID is the originating
// Request's creation timestamp, used as the cluster-unique correlation
// ID (spec §3).
type GetFile struct {
	Key    string `json:"key"`
	CorrID int64  `json:"corr_id"`
}

// StoreFile is the 0x08 replica write request.
type StoreFile struct {
	Key     string        `json:"key"`
	Value   string        `json:"value"`
	Context store.Context `json:"context"`
	CorrID  int64         `json:"corr_id"`
}

// StoreFileResponse is the 0x70 reply to StoreFile. From self-identifies
// the responding host so the coordinator can dedupe responses per request
// by responder-IP (spec §4.4) without needing the transport layer to
// track the identity of every connection.
type StoreFileResponse struct {
	CorrID  int64         `json:"corr_id"`
	From    string        `json:"from"`
	Key     string        `json:"key"`
	Value   string        `json:"value"`
	Context store.Context `json:"context"`
}

// GetFileResponse is the 0x80 reply to GetFile, carrying every row on
// file at the replica (the coordinator calls store.SortData across all
// responders' rows).
type GetFileResponse struct {
	CorrID int64       `json:"corr_id"`
	From   string      `json:"from"`
	Key    string      `json:"key"`
	Rows   []store.Row `json:"rows"`
}

// ForwardedRequest is the 0x0A message: a non-owning node (or the
// leader) hands an in-flight Request to the node that should actually
// coordinate it.
type ForwardedRequest struct {
	CorrID      int64         `json:"corr_id"`
	Type        string        `json:"type"` // "put" or "get"
	Key         string        `json:"key"`
	Value       string        `json:"value,omitempty"`
	Context     store.Context `json:"context,omitempty"`
	SendBackTo  string        `json:"send_back_to"`
	ForwardedTo string        `json:"forwarded_to"`
}

// ResponseForForward is the 0x0B message: the repackaged client-facing
// reply to a ForwardedRequest, carried back toward the original sender.
// Responses are free-form text, per spec §4.1/§6.
type ResponseForForward struct {
	CorrID int64  `json:"corr_id"`
	Text   string `json:"text"`
}

// Handoff is the 0x0C message: a StoreFile write wrapped together with
// the set of hosts it was ultimately intended for, addressed to a
// hinted-handoff holder.
type Handoff struct {
	Write         StoreFile `json:"write"`
	IntendedHosts []string  `json:"intended_hosts"`
}

// Encode marshals a payload for WriteFrame.
func Encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals a frame's payload into T.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if err := sonic.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
