package coordinator

import (
	"sync"
	"time"

	"dynamokv/internal/store"
)

// ReqType is one of the four request shapes this node's coordinator can
// be driving at any moment (spec §3).
type ReqType string

const (
	TypeGet    ReqType = "get"
	TypePut    ReqType = "put"
	TypeForGet ReqType = "for_get"
	TypeForPut ReqType = "for_put"
)

// Request tracks one coordinated client operation from creation to
// quorum completion or timeout, whichever occurs first (spec §3).
type Request struct {
	CorrID      int64
	Type        ReqType
	Key         string
	Value       string
	Context     store.Context
	ForwardedTo string

	// expected is the designated owner+replicas set for Key, used to
	// compute which hosts a write is still missing once it finishes
	// (drives hinted handoff). Set for local get and put requests (only
	// writes read it); empty for for_get/for_put requests.
	expected []string

	mu        sync.Mutex
	responded bool
	rowsByIP  map[string][]store.Row // get: responder host -> rows it returned
	ackIPs    map[string]bool        // put: which hosts have acknowledged

	timer *time.Timer
	done  chan string
}

func newRequest(corrID int64, typ ReqType, key string, expected []string) *Request {
	return &Request{
		CorrID:   corrID,
		Type:     typ,
		Key:      key,
		expected: expected,
		rowsByIP: make(map[string][]store.Row),
		ackIPs:   make(map[string]bool),
		done:     make(chan string, 1),
	}
}
