// Package membership drives leader-coordinated two-phase commit over
// ring membership changes: add-node and remove-node. Only the leader
// initiates a change; every node (leader and followers) applies commits
// to its local ring and persists the result.
package membership

import (
	"fmt"
	"log"
	"sync"
	"time"

	"dynamokv/internal/ring"
	"dynamokv/internal/wire"
)

// Sender is the subset of transport.Transport membership needs: fire a
// tagged message at a host, best-effort.
type Sender interface {
	Send(host string, tag wire.Tag, payload []byte) error
}

// pending is the leader-only bookkeeping for one in-flight (view, req_id)
// operation (spec §3 "Membership Operation State").
type pending struct {
	view     int64
	reqID    int64
	op       wire.MembershipOp
	target   string
	oks      map[string]bool
	required int
	timer    *time.Timer
	done     chan string // leader blocks on this for the client-facing reply
}

// Manager is the per-node membership component. Every node runs one;
// only the leader's in-progress/pending state is ever populated.
type Manager struct {
	selfHost string
	isLeader bool
	ring     *ring.Ring
	sender   Sender
	timeout  time.Duration
	ringPath string

	mu         sync.Mutex
	inProgress bool
	cur        *pending
	nextReqID  int64
	view       int64 // carried per spec §9, never incremented
}

// New creates a Manager. ringPath is where the local ring snapshot is
// persisted on every successful commit (spec §6: "<host>.ring").
func New(selfHost string, isLeader bool, r *ring.Ring, sender Sender, timeout time.Duration, ringPath string) *Manager {
	return &Manager{
		selfHost: selfHost,
		isLeader: isLeader,
		ring:     r,
		sender:   sender,
		timeout:  timeout,
		ringPath: ringPath,
	}
}

func (m *Manager) IsLeader() bool { return m.isLeader }

// AddNode drives the leader-side 2PC to add host, blocking until commit,
// rejection, or timeout. Returns the client-facing reply text.
func (m *Manager) AddNode(host string) string {
	return m.startOp(wire.OpAdd, host)
}

// RemoveNode drives the leader-side 2PC to remove host.
func (m *Manager) RemoveNode(host string) string {
	return m.startOp(wire.OpRemove, host)
}

func (m *Manager) startOp(op wire.MembershipOp, target string) string {
	if !m.isLeader {
		return "error: not the leader"
	}

	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		return "error: membership operation already in progress"
	}

	members := m.ring.Members()
	present := contains(members, target)
	if op == wire.OpAdd && present {
		return m.rejectLocked("error: node already in ring")
	}
	if op == wire.OpRemove && !present {
		return m.rejectLocked("error: node not in ring")
	}

	reqID := m.nextReqID
	m.nextReqID++
	view := m.view

	// Broadcast set: current members plus the target, minus self (spec §4.3).
	broadcast := unionMinusSelf(members, target, m.selfHost)

	// The leader never votes for itself, so required counts OKs from the
	// other members (and, for add, the target).
	required := len(members)
	if op == wire.OpRemove {
		required = len(members) - 2 // the removed node's own vote is not required
	}

	p := &pending{
		view:     view,
		reqID:    reqID,
		op:       op,
		target:   target,
		oks:      make(map[string]bool),
		required: required,
		done:     make(chan string, 1),
	}
	// Armed before any prepare goes out, so an OK that completes the vote
	// during the broadcast always finds a timer to cancel.
	p.timer = time.AfterFunc(m.timeout, func() { m.onTimeout(p) })
	m.cur = p
	m.inProgress = true
	m.mu.Unlock()

	prepare, err := wire.Encode(wire.Prepare{View: view, ReqID: reqID, Op: op, Host: target})
	if err != nil {
		m.clearInProgress()
		return "error: encode prepare: " + err.Error()
	}
	for _, host := range broadcast {
		if err := m.sender.Send(host, wire.TagMembershipPrepare, prepare); err != nil {
			log.Printf("membership: prepare to %s failed: %v", host, err)
		}
	}

	if required <= 0 {
		// Nothing to vote on (e.g. removing the sole other member):
		// commit immediately.
		m.tryCommit(p)
	}

	return <-p.done
}

func (m *Manager) rejectLocked(msg string) string {
	m.mu.Unlock()
	return msg
}

// HandlePrepare is the follower-side 0x01 handler: record the prepare and
// reply OK unconditionally (spec §4.3 step 3 — "no abort path other than
// timeout").
func (m *Manager) HandlePrepare(p wire.Prepare) wire.OK {
	return wire.OK{View: p.View, ReqID: p.ReqID, From: m.selfHost}
}

// HandleOK is the leader-side 0xFF handler.
func (m *Manager) HandleOK(ok wire.OK) {
	m.mu.Lock()
	p := m.cur
	if p == nil || !m.inProgress || p.view != ok.View || p.reqID != ok.ReqID {
		m.mu.Unlock()
		return // stale or unknown round — ignored for counting
	}
	p.oks[ok.From] = true // set semantics: duplicates don't inflate the count
	m.mu.Unlock()

	m.tryCommit(p)
}

func (m *Manager) tryCommit(p *pending) {
	m.mu.Lock()
	m.tryCommitLocked(p)
}

// tryCommitLocked assumes m.mu is held on entry and releases it.
func (m *Manager) tryCommitLocked(p *pending) {
	if m.cur != p || !m.inProgress {
		m.mu.Unlock()
		return
	}
	if len(p.oks) < p.required {
		m.mu.Unlock()
		return
	}
	p.timer.Stop()

	// Apply locally and compute the authoritative host list before
	// releasing the lock, then broadcast outside the lock.
	switch p.op {
	case wire.OpAdd:
		m.ring.Add(p.target)
	case wire.OpRemove:
		m.ring.Remove(p.target)
	}
	hosts := m.ring.Members()
	if err := m.ring.Persist(m.ringPath); err != nil {
		log.Printf("membership: persist ring: %v", err)
	}
	m.inProgress = false
	m.cur = nil
	m.mu.Unlock()

	commit, err := wire.Encode(wire.Commit{View: p.view, Op: p.op, Hosts: hosts})
	if err != nil {
		p.done <- "error: encode commit: " + err.Error()
		return
	}

	targets := hosts
	if p.op == wire.OpRemove {
		// The removed host is no longer in hosts; tell it directly too,
		// so it learns it was removed (spec §4.3 step 4).
		targets = append(append([]string(nil), hosts...), p.target)
	}
	for _, host := range targets {
		if host == m.selfHost {
			continue
		}
		if err := m.sender.Send(host, wire.TagMembershipCommit, commit); err != nil {
			log.Printf("membership: commit to %s failed: %v", host, err)
		}
	}

	verb := "added"
	if p.op == wire.OpRemove {
		verb = "removed"
	}
	p.done <- fmt.Sprintf("%s node %s", verb, p.target)
}

func (m *Manager) onTimeout(p *pending) {
	m.mu.Lock()
	if m.cur != p || !m.inProgress {
		m.mu.Unlock()
		return // already committed
	}
	m.inProgress = false
	m.cur = nil
	m.mu.Unlock()

	verb := "add"
	if p.op == wire.OpRemove {
		verb = "remove"
	}
	select {
	case p.done <- fmt.Sprintf("error: Failed to %s node %s (timeout)", verb, p.target):
	default:
	}
}

func (m *Manager) clearInProgress() {
	m.mu.Lock()
	m.inProgress = false
	m.cur = nil
	m.mu.Unlock()
}

// HandleCommit is every node's 0x10 handler: apply the membership change
// locally and persist the ring (spec §4.3 step 5). Idempotent — applying
// the same host list twice is a no-op on the second application.
func (m *Manager) HandleCommit(c wire.Commit) {
	switch c.Op {
	case wire.OpAdd:
		for _, h := range c.Hosts {
			m.ring.Add(h)
		}
	case wire.OpRemove:
		// The authoritative list no longer contains the removed host(s);
		// reconcile local membership down to exactly that list.
		current := m.ring.Members()
		keep := make(map[string]bool, len(c.Hosts))
		for _, h := range c.Hosts {
			keep[h] = true
			m.ring.Add(h)
		}
		for _, h := range current {
			if !keep[h] {
				m.ring.Remove(h)
			}
		}
	}
	if err := m.ring.Persist(m.ringPath); err != nil {
		log.Printf("membership: persist ring after commit: %v", err)
	}
}

func contains(hosts []string, target string) bool {
	for _, h := range hosts {
		if h == target {
			return true
		}
	}
	return false
}

// unionMinusSelf builds the broadcast set: current members plus target,
// minus self, de-duplicated.
func unionMinusSelf(members []string, target, self string) []string {
	seen := make(map[string]bool, len(members)+1)
	var out []string
	add := func(h string) {
		if h == self || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}
	for _, h := range members {
		add(h)
	}
	add(target)
	return out
}
