// cmd/node is the entrypoint for a single cluster member.
//
// Configuration is entirely via flags so one binary can serve any role
// in the cluster — leader or follower, first member or late joiner.
//
// Example — three-node cluster, A is leader:
//
//	./node --host A --tcp-port 13337 --leader --data-dir /tmp/kv/A
//	./node --host B --tcp-port 13337 --leader-host A:13337 --data-dir /tmp/kv/B
//	./node --host C --tcp-port 13337 --leader-host A:13337 --data-dir /tmp/kv/C
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dynamokv/internal/coordinator"
	"dynamokv/internal/debugapi"
	"dynamokv/internal/handoff"
	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/store"
	"dynamokv/internal/transport"
	"dynamokv/internal/wire"
)

func main() {
	host := flag.String("host", "", "this node's hostname, as carried on the ring (required)")
	tcpPort := flag.Int("tcp-port", 13337, "TCP port for the wire protocol")
	isLeader := flag.Bool("leader", false, "run this node as the membership leader")
	leaderHost := flag.String("leader-host", "", "leader's host:port (required for non-leaders)")
	dataDir := flag.String("data-dir", "/tmp/dynamokv", "directory for WAL, snapshots, ring and handoff state")
	qsize := flag.Int("qsize", 5, "replication factor")
	readQuorum := flag.Int("r", 3, "read quorum")
	writeQuorum := flag.Int("w", 3, "write quorum")
	requestTimelimit := flag.Duration("request-timelimit", 2*time.Second, "per-request deadline before a read/write/membership op gives up")
	handoffInterval := flag.Duration("handoff-interval", 5*time.Second, "hinted handoff retry period")
	debugAddr := flag.String("debug-addr", "", "optional address to serve the read-only debug HTTP API on, e.g. :8080")
	flag.Parse()

	if *host == "" {
		log.Fatal("FATAL: --host is required")
	}
	if !*isLeader && *leaderHost == "" {
		log.Fatal("FATAL: --leader-host is required for non-leader nodes")
	}

	nodeDataDir := fmt.Sprintf("%s/%s", *dataDir, *host)
	s, err := store.Open(nodeDataDir, *host)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer s.Close()

	r := ring.New(150, *qsize)
	ringPath := fmt.Sprintf("%s/%s.ring", nodeDataDir, *host)
	if err := r.Load(ringPath); err != nil {
		log.Fatalf("load ring: %v", err)
	}
	if len(r.Members()) == 0 {
		// First boot: seed the ring with just ourselves. Any other member
		// joins later via add-node against the leader.
		r.Add(*host)
	}

	selfAddr := fmt.Sprintf("%s:%d", *host, *tcpPort)
	tr := transport.New(selfAddr)

	ho := handoff.New(selfAddr, tr, fmt.Sprintf("%s/%s.handoff", nodeDataDir, *host), *handoffInterval)
	if err := ho.Load(); err != nil {
		log.Fatalf("load handoff queue: %v", err)
	}
	defer ho.Stop()

	mem := membership.New(selfAddr, *isLeader, r, tr, *requestTimelimit, ringPath)

	leaderAddr := selfAddr
	if !*isLeader {
		leaderAddr = *leaderHost
	}
	coord := coordinator.New(selfAddr, *isLeader, leaderAddr, r, s, tr, ho, *requestTimelimit, *qsize, *readQuorum, *writeQuorum)

	registerHandlers(tr, mem, coord, ho)

	if err := tr.Listen(fmt.Sprintf(":%d", *tcpPort)); err != nil {
		log.Fatalf("listen: %v", err)
	}

	go func() {
		log.Printf("node %s listening on :%d (leader=%v qsize=%d r=%d w=%d)",
			*host, *tcpPort, *isLeader, *qsize, *readQuorum, *writeQuorum)
		if err := tr.Serve(); err != nil {
			log.Printf("transport stopped: %v", err)
		}
	}()

	stopSnapshots := make(chan struct{})
	go runPeriodicSnapshots(s, stopSnapshots)

	stopHandoffRetry := make(chan struct{})
	go runPeriodicHandoffRetry(ho, *handoffInterval, stopHandoffRetry)

	if *debugAddr != "" {
		dbg := debugapi.New(selfAddr, r, ho, coord)
		go func() {
			if err := dbg.Run(*debugAddr); err != nil {
				log.Printf("debug api stopped: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down node", *host)
	close(stopSnapshots)
	close(stopHandoffRetry)

	if err := s.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}
	if err := tr.Close(); err != nil {
		log.Printf("transport close error: %v", err)
	}
}

// registerHandlers wires every wire.Tag to the collaborator that owns it.
func registerHandlers(tr *transport.Transport, mem *membership.Manager, coord *coordinator.Coordinator, ho *handoff.Manager) {
	tr.RegisterHandler(wire.TagClientCommand, func(conn net.Conn, payload []byte) {
		handleClientCommand(conn, payload, mem, coord)
	})

	tr.RegisterHandler(wire.TagMembershipPrepare, func(conn net.Conn, payload []byte) {
		p, err := wire.Decode[wire.Prepare](payload)
		if err != nil {
			log.Printf("decode prepare: %v", err)
			return
		}
		ok := mem.HandlePrepare(p)
		data, err := wire.Encode(ok)
		if err != nil {
			log.Printf("encode ok: %v", err)
			return
		}
		if err := wire.WriteFrame(conn, wire.TagMembershipOK, data); err != nil {
			log.Printf("reply ok: %v", err)
		}
	})
	tr.RegisterHandler(wire.TagMembershipOK, func(conn net.Conn, payload []byte) {
		ok, err := wire.Decode[wire.OK](payload)
		if err != nil {
			log.Printf("decode ok: %v", err)
			return
		}
		mem.HandleOK(ok)
	})
	tr.RegisterHandler(wire.TagMembershipCommit, func(conn net.Conn, payload []byte) {
		c, err := wire.Decode[wire.Commit](payload)
		if err != nil {
			log.Printf("decode commit: %v", err)
			return
		}
		mem.HandleCommit(c)
	})

	tr.RegisterHandler(wire.TagGetFile, coord.HandleGetFile)
	tr.RegisterHandler(wire.TagStoreFile, coord.HandleStoreFile)
	tr.RegisterHandler(wire.TagGetFileResponse, coord.HandleGetFileResponse)
	tr.RegisterHandler(wire.TagStoreFileResponse, coord.HandleStoreFileResponse)
	tr.RegisterHandler(wire.TagForwardedRequest, coord.HandleForwardedRequest)
	tr.RegisterHandler(wire.TagResponseForForward, coord.HandleResponseForForward)

	tr.RegisterHandler(wire.TagHandoff, ho.HandleHandoff)
}

func runPeriodicSnapshots(s *store.Store, stop chan struct{}) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			}
		case <-stop:
			return
		}
	}
}

func runPeriodicHandoffRetry(ho *handoff.Manager, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ho.Retry()
		case <-stop:
			return
		}
	}
}
