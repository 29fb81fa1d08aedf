// Package coordinator implements the read/write request path: a node
// acting as coordinator creates a Request for a client get/put,
// broadcasts to the key's replicas, collects responses, enforces quorum
// and timeouts, and completes or forwards (spec §4.4).
package coordinator

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dynamokv/internal/ring"
	"dynamokv/internal/store"
	"dynamokv/internal/wire"
)

// Sender is the subset of transport.Transport the coordinator needs.
type Sender interface {
	Send(host string, tag wire.Tag, payload []byte) error
}

// HandoffEnqueuer is the subset of handoff.Manager the coordinator needs
// in order to hold a write locally when it is itself the chosen holder.
type HandoffEnqueuer interface {
	Enqueue(intendedHost string, write wire.StoreFile)
}

// errSentinel is returned to the client when a read or write fails to
// reach quorum (spec §4.4, §7 "replica-level read miss").
const errSentinel = "error: quorum not reached"

// Coordinator drives the origination routing, replica fan-out, and
// quorum bookkeeping for every get/put/for_get/for_put this node handles.
type Coordinator struct {
	selfHost   string
	isLeader   bool
	leaderHost string

	ring    *ring.Ring
	store   *store.Store
	sender  Sender
	handoff HandoffEnqueuer

	timeout time.Duration
	qsize   int
	r       int
	w       int

	mu      sync.Mutex
	ongoing map[int64]*Request

	corrSeq int64
}

// New constructs a Coordinator. leaderHost is consulted only when
// isLeader is false (non-leader put/get always forwards there).
func New(selfHost string, isLeader bool, leaderHost string, r *ring.Ring, s *store.Store, sender Sender, ho HandoffEnqueuer, timeout time.Duration, qsize, read, write int) *Coordinator {
	return &Coordinator{
		selfHost:   selfHost,
		isLeader:   isLeader,
		leaderHost: leaderHost,
		ring:       r,
		store:      s,
		sender:     sender,
		handoff:    ho,
		timeout:    timeout,
		qsize:      qsize,
		r:          read,
		w:          write,
		ongoing:    make(map[int64]*Request),
	}
}

// nextCorrID mints a cluster-unique correlation id: a creation timestamp
// (spec §3), disambiguated by a per-node sequence for same-nanosecond
// collisions on this node.
func (c *Coordinator) nextCorrID() int64 {
	seq := atomic.AddInt64(&c.corrSeq, 1)
	return time.Now().UnixNano() + seq
}

func (c *Coordinator) expectedSet(key string) []string {
	owner := c.ring.Owner(key)
	replicas := c.ring.Replicas(key)
	return append([]string{owner}, replicas...)
}

// OngoingCount reports how many Requests are currently awaiting quorum
// or timeout — used by the debug HTTP surface.
func (c *Coordinator) OngoingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ongoing)
}

func (c *Coordinator) removeOngoing(corrID int64) {
	c.mu.Lock()
	delete(c.ongoing, corrID)
	c.mu.Unlock()
}

// ─── Origination ──────────────────────────────────────────────────────────

// Put is the client-facing entry point for `put K CTX V` (spec §4.2,
// §4.4 "Origination").
func (c *Coordinator) Put(key string, ctx store.Context, value string) string {
	if !c.isLeader {
		return c.forward(c.leaderHost, TypeForPut, key, value, ctx)
	}
	return c.routeLocalOrForward(TypePut, key, value, ctx)
}

// Get is the client-facing entry point for `get K`.
func (c *Coordinator) Get(key string) string {
	if !c.isLeader {
		return c.forward(c.leaderHost, TypeForGet, key, "", nil)
	}
	return c.routeLocalOrForward(TypeGet, key, "", nil)
}

// routeLocalOrForward is the owner-vs-not-owner half of origination
// routing (spec §4.4): used both by the leader handling a direct client
// request and by whoever receives a forwardedReq — the only remaining
// decision at that point is whether this node owns the key.
func (c *Coordinator) routeLocalOrForward(typ ReqType, key, value string, ctx store.Context) string {
	owner := c.ring.Owner(key)
	if owner == c.selfHost {
		if typ == TypeGet {
			return c.localGet(key)
		}
		return c.localPut(key, ctx, value)
	}
	forType := TypeForPut
	if typ == TypeGet {
		forType = TypeForGet
	}
	return c.forward(owner, forType, key, value, ctx)
}

// forward opens a for_put/for_get Request addressed at target and
// blocks until a responseForForward arrives or the extended deadline
// expires, in which case it promotes itself to coordinator and performs
// the operation itself (spec §4.4 "leader-to-coord" recovery — applied
// uniformly to any node that forwarded, not only the leader, since the
// recovery is identical either way: do locally what the unreachable peer
// was asked to do).
func (c *Coordinator) forward(target string, typ ReqType, key, value string, ctx store.Context) string {
	corrID := c.nextCorrID()
	req := newRequest(corrID, typ, key, nil)
	req.Value = value
	req.Context = ctx
	req.ForwardedTo = target

	c.mu.Lock()
	c.ongoing[corrID] = req
	c.mu.Unlock()

	fr := wire.ForwardedRequest{
		CorrID:      corrID,
		Type:        strippedType(typ),
		Key:         key,
		Value:       value,
		Context:     ctx,
		SendBackTo:  c.selfHost,
		ForwardedTo: target,
	}
	payload, err := wire.Encode(fr)
	if err != nil {
		c.removeOngoing(corrID)
		return "error: encode forwarded request: " + err.Error()
	}

	// Forwarded operations get one extra unit of deadline to cover the
	// additional hop (spec §4.4).
	req.timer = time.AfterFunc(2*c.timeout, func() { c.onForwardTimeout(req) })

	if sendErr := c.sender.Send(target, wire.TagForwardedRequest, payload); sendErr != nil {
		log.Printf("coordinator: forward to %s failed: %v", target, sendErr)
		// Leave the timer armed — promotion on timeout is the recovery path.
	}

	return <-req.done
}

func strippedType(typ ReqType) string {
	switch typ {
	case TypeForPut:
		return "put"
	case TypeForGet:
		return "get"
	default:
		return string(typ)
	}
}

func (c *Coordinator) onForwardTimeout(req *Request) {
	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.responded = true
	req.mu.Unlock()
	c.removeOngoing(req.CorrID)

	var text string
	switch req.Type {
	case TypeForPut:
		text = c.localPut(req.Key, req.Context, req.Value)
	case TypeForGet:
		text = c.localGet(req.Key)
	}
	select {
	case req.done <- text:
	default:
	}
}

// HandleForwardedRequest is the 0x0A handler: someone forwarded a
// put/get to this node because it is the owner (or, for a non-leader's
// put/get, because this node is the leader). It performs the operation
// locally and replies with responseForForward on the same connection.
func (c *Coordinator) HandleForwardedRequest(conn net.Conn, payload []byte) {
	fr, err := wire.Decode[wire.ForwardedRequest](payload)
	if err != nil {
		log.Printf("coordinator: decode forwardedReq: %v", err)
		return
	}

	var typ ReqType
	switch fr.Type {
	case "put":
		typ = TypePut
	case "get":
		typ = TypeGet
	default:
		resp := wire.ResponseForForward{CorrID: fr.CorrID, Text: "error: unknown forwarded request type " + fr.Type}
		data, _ := wire.Encode(resp)
		wire.WriteFrame(conn, wire.TagResponseForForward, data)
		return
	}
	text := c.routeLocalOrForward(typ, fr.Key, fr.Value, fr.Context)

	resp := wire.ResponseForForward{CorrID: fr.CorrID, Text: text}
	data, err := wire.Encode(resp)
	if err != nil {
		log.Printf("coordinator: encode responseForForward: %v", err)
		return
	}
	if err := wire.WriteFrame(conn, wire.TagResponseForForward, data); err != nil {
		log.Printf("coordinator: reply responseForForward: %v", err)
	}
}

// HandleResponseForForward is the 0x0B handler on the node that
// originally forwarded the request.
func (c *Coordinator) HandleResponseForForward(conn net.Conn, payload []byte) {
	rff, err := wire.Decode[wire.ResponseForForward](payload)
	if err != nil {
		log.Printf("coordinator: decode responseForForward: %v", err)
		return
	}

	c.mu.Lock()
	req, ok := c.ongoing[rff.CorrID]
	c.mu.Unlock()
	if !ok {
		return // already timed out and promoted, or a stale duplicate
	}

	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.responded = true
	req.mu.Unlock()

	req.timer.Stop()
	c.removeOngoing(req.CorrID)
	select {
	case req.done <- rff.Text:
	default:
	}
}

// ─── Local write path ─────────────────────────────────────────────────────

func (c *Coordinator) localPut(key string, ctx store.Context, value string) string {
	expected := c.expectedSet(key)
	corrID := c.nextCorrID()
	req := newRequest(corrID, TypePut, key, expected)
	req.Value = value

	newCtx := ctx.Copy()
	newCtx.Increment(c.selfHost)
	req.Context = newCtx

	c.mu.Lock()
	c.ongoing[corrID] = req
	c.mu.Unlock()

	if err := c.store.StoreFile(key, c.selfHost, newCtx, value); err != nil {
		c.finishWrite(req, "error: local store: "+err.Error())
		return <-req.done
	}

	req.mu.Lock()
	req.ackIPs[c.selfHost] = true
	acked := len(req.ackIPs)
	req.mu.Unlock()

	replicas := c.ring.Replicas(key)
	sf := wire.StoreFile{Key: key, Value: value, Context: newCtx, CorrID: corrID}
	payload, err := wire.Encode(sf)
	if err != nil {
		c.finishWrite(req, "error: encode store file: "+err.Error())
		return <-req.done
	}
	for _, host := range replicas {
		if sendErr := c.sender.Send(host, wire.TagStoreFile, payload); sendErr != nil {
			log.Printf("coordinator: storeFile to %s failed: %v", host, sendErr)
		}
	}

	req.timer = time.AfterFunc(c.timeout, func() { c.onWriteTimeout(req) })

	if acked >= c.w {
		c.finishWrite(req, fmt.Sprintf("ok: stored %s=%s", key, value))
	}

	return <-req.done
}

// HandleStoreFile is the 0x08 replica-side handler.
func (c *Coordinator) HandleStoreFile(conn net.Conn, payload []byte) {
	sf, err := wire.Decode[wire.StoreFile](payload)
	if err != nil {
		log.Printf("coordinator: decode storeFile: %v", err)
		return
	}
	if err := c.store.StoreFile(sf.Key, c.selfHost, sf.Context, sf.Value); err != nil {
		log.Printf("coordinator: replica store of %s failed: %v", sf.Key, err)
		return
	}

	resp := wire.StoreFileResponse{CorrID: sf.CorrID, From: c.selfHost, Key: sf.Key, Value: sf.Value, Context: sf.Context}
	data, err := wire.Encode(resp)
	if err != nil {
		log.Printf("coordinator: encode storeFileResponse: %v", err)
		return
	}
	if err := wire.WriteFrame(conn, wire.TagStoreFileResponse, data); err != nil {
		log.Printf("coordinator: reply storeFileResponse: %v", err)
	}
}

// HandleStoreFileResponse is the 0x70 coordinator-side handler.
func (c *Coordinator) HandleStoreFileResponse(conn net.Conn, payload []byte) {
	resp, err := wire.Decode[wire.StoreFileResponse](payload)
	if err != nil {
		log.Printf("coordinator: decode storeFileResponse: %v", err)
		return
	}

	c.mu.Lock()
	req, ok := c.ongoing[resp.CorrID]
	c.mu.Unlock()
	if !ok {
		return
	}

	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.ackIPs[resp.From] = true
	acked := len(req.ackIPs)
	req.mu.Unlock()

	if acked >= c.w {
		c.finishWrite(req, fmt.Sprintf("ok: stored %s=%s", req.Key, req.Value))
	}
}

func (c *Coordinator) onWriteTimeout(req *Request) {
	req.mu.Lock()
	already := req.responded
	req.mu.Unlock()
	if already {
		return
	}
	c.finishWrite(req, errSentinel)
}

// finishWrite is the single path to completing a write Request, whether
// by quorum or by timeout. responded guards against a double reply
// (spec §4.4 "Replying to clients"). It always evaluates hinted handoff,
// since even a successful quorum write can leave some designated replica
// (e.g. the owner, during leader-to-coord promotion) without a copy.
func (c *Coordinator) finishWrite(req *Request, text string) {
	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.responded = true
	acked := make(map[string]bool, len(req.ackIPs))
	for host, ok := range req.ackIPs {
		acked[host] = ok
	}
	req.mu.Unlock()

	if req.timer != nil {
		req.timer.Stop()
	}
	c.removeOngoing(req.CorrID)
	c.scheduleHandoff(req, acked)

	select {
	case req.done <- text:
	default:
	}
}

// scheduleHandoff identifies which of a write's designated replicas
// never acknowledged and hands each one off to a surrogate holder
// (spec §4.4 "Hinted handoff on write").
func (c *Coordinator) scheduleHandoff(req *Request, acked map[string]bool) {
	if req.Type != TypePut || len(req.expected) == 0 {
		return
	}

	var missing []string
	for _, host := range req.expected {
		if !acked[host] {
			missing = append(missing, host)
		}
	}
	if len(missing) == 0 {
		return
	}

	write := wire.StoreFile{Key: req.Key, Value: req.Value, Context: req.Context, CorrID: req.CorrID}
	for _, host := range missing {
		holder := c.ring.HandoffNode(host)
		if holder == "" {
			continue
		}
		if holder == c.selfHost {
			c.handoff.Enqueue(host, write)
			continue
		}
		payload, err := wire.Encode(wire.Handoff{Write: write, IntendedHosts: []string{host}})
		if err != nil {
			log.Printf("coordinator: encode handoff for %s: %v", host, err)
			continue
		}
		if err := c.sender.Send(holder, wire.TagHandoff, payload); err != nil {
			log.Printf("coordinator: send handoff to holder %s (for %s) failed: %v", holder, host, err)
		}
	}
}

// ─── Local read path ──────────────────────────────────────────────────────

func (c *Coordinator) localGet(key string) string {
	expected := c.expectedSet(key)
	corrID := c.nextCorrID()
	req := newRequest(corrID, TypeGet, key, expected)

	c.mu.Lock()
	c.ongoing[corrID] = req
	c.mu.Unlock()

	rows := c.store.GetFile(key)
	req.mu.Lock()
	req.rowsByIP[c.selfHost] = rows
	responded := len(req.rowsByIP)
	req.mu.Unlock()

	gf := wire.GetFile{Key: key, CorrID: corrID}
	payload, err := wire.Encode(gf)
	if err != nil {
		c.finishRead(req, "error: encode get file: "+err.Error())
		return <-req.done
	}
	for _, host := range c.ring.Replicas(key) {
		if sendErr := c.sender.Send(host, wire.TagGetFile, payload); sendErr != nil {
			log.Printf("coordinator: getFile to %s failed: %v", host, sendErr)
		}
	}

	req.timer = time.AfterFunc(c.timeout, func() { c.onReadTimeout(req) })

	if responded >= c.r {
		c.finishRead(req, c.coalesce(req))
	}

	return <-req.done
}

// HandleGetFile is the 0x07 replica-side handler.
func (c *Coordinator) HandleGetFile(conn net.Conn, payload []byte) {
	gf, err := wire.Decode[wire.GetFile](payload)
	if err != nil {
		log.Printf("coordinator: decode getFile: %v", err)
		return
	}
	rows := c.store.GetFile(gf.Key)
	resp := wire.GetFileResponse{CorrID: gf.CorrID, From: c.selfHost, Key: gf.Key, Rows: rows}
	data, err := wire.Encode(resp)
	if err != nil {
		log.Printf("coordinator: encode getFileResponse: %v", err)
		return
	}
	if err := wire.WriteFrame(conn, wire.TagGetFileResponse, data); err != nil {
		log.Printf("coordinator: reply getFileResponse: %v", err)
	}
}

// HandleGetFileResponse is the 0x80 coordinator-side handler.
func (c *Coordinator) HandleGetFileResponse(conn net.Conn, payload []byte) {
	resp, err := wire.Decode[wire.GetFileResponse](payload)
	if err != nil {
		log.Printf("coordinator: decode getFileResponse: %v", err)
		return
	}

	c.mu.Lock()
	req, ok := c.ongoing[resp.CorrID]
	c.mu.Unlock()
	if !ok {
		return
	}

	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.rowsByIP[resp.From] = resp.Rows
	responded := len(req.rowsByIP)
	req.mu.Unlock()

	if responded >= c.r {
		c.finishRead(req, c.coalesce(req))
	}
}

func (c *Coordinator) onReadTimeout(req *Request) {
	req.mu.Lock()
	already := req.responded
	n := len(req.rowsByIP)
	req.mu.Unlock()
	if already {
		return
	}
	if n >= c.r {
		c.finishRead(req, c.coalesce(req))
		return
	}
	c.finishRead(req, errSentinel)
}

func (c *Coordinator) finishRead(req *Request, text string) {
	req.mu.Lock()
	if req.responded {
		req.mu.Unlock()
		return
	}
	req.responded = true
	req.mu.Unlock()

	if req.timer != nil {
		req.timer.Stop()
	}
	c.removeOngoing(req.CorrID)

	select {
	case req.done <- text:
	default:
	}
}

// coalesce collects every responder's rows for a get, de-duplicates and
// drops dominated versions (store.SortData), and renders the surviving
// sibling set for the client (spec §4.4 "Local get").
func (c *Coordinator) coalesce(req *Request) string {
	req.mu.Lock()
	var all []store.Row
	for _, rows := range req.rowsByIP {
		all = append(all, rows...)
	}
	req.mu.Unlock()

	siblings := store.SortData(all)
	data, err := wire.Encode(siblings)
	if err != nil {
		return "error: encode result: " + err.Error()
	}
	return string(data)
}
