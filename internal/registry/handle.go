// Package registry implements the NS's fixed-capacity server and client
// tables (spec.md §4.3), grounded on the teacher's map+mutex registry idiom
// (cmd/minimega's VMs type) but sized and slotted per the spec: a bounded
// array of entries rather than an unbounded map, so registration can fail
// with a CapacityExhausted error once full, and so a server_id can be
// recognized as stale after its slot is reused (see IDs below).
package registry

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// ServerID returns the wire identity (network-order-ip<<16 | port) for an
// IPv4 address and a registration port, per spec.md §3.
func ServerID(ip net.IP, port int) uint64 {
	ip4 := ip.To4()
	if ip4 == nil {
		// IPv6 has no analogue in the original wire format; fold it down
		// to 32 bits rather than fail registration outright.
		ip4 = ip.To16()[12:16]
	}
	ipBits := binary.BigEndian.Uint32(ip4)
	return (uint64(ipBits) << 16) | uint64(uint16(port))
}

// ClientID is identical in shape to ServerID (spec.md §3: "client_id formed
// identically").
func ClientID(ip net.IP, port int) uint64 {
	return ServerID(ip, port)
}

// ServerHandle describes a registered storage server. Backups is a list of
// server ids rather than pointers: the registry may recycle a slot after a
// server is removed, so a reimplementation that kept raw handle references
// around risks resolving a backup entry to the wrong (reused) server. IDs
// are stable; slot indices are not exposed outside this package.
type ServerHandle struct {
	ServerID         uint64
	IP               net.IP
	RegistrationPort int
	ClientPort       int
	NSPort           int

	// mu guards WriteConn/ReadConn, which are set once during the
	// handshake (§4.4) and read by every client-handler goroutine that
	// needs to forward a RENAME.
	mu        sync.Mutex
	WriteConn net.Conn // NS->SS forwarding socket for mutating requests
	ReadConn  net.Conn // incoming SS->NS socket, read for RESPONSE frames

	Backups []uint64 // assigned backup server ids, in preference order
}

func (h *ServerHandle) SetConns(write, read net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.WriteConn = write
	h.ReadConn = read
}

func (h *ServerHandle) Conns() (write, read net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.WriteConn, h.ReadConn
}

// ClientHandle describes a connected client.
type ClientHandle struct {
	ClientID uint64
	IP       net.IP
	Port     int
	Conn     net.Conn

	// writeMu serializes writes to Conn: the client's own request/response
	// loop and an asynchronous RENAME ACK pushed in from a server-handler
	// goroutine (spec.md §4.5) can otherwise interleave their frames.
	writeMu sync.Mutex
}

// Send runs write against the handle's connection with exclusive access,
// so a pushed ACK frame can never interleave with the client's own
// in-flight response.
func (h *ClientHandle) Send(write func(net.Conn) error) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return write(h.Conn)
}

// ErrCapacityExhausted is returned when a registry is full.
type ErrCapacityExhausted struct {
	What string
}

func (e *ErrCapacityExhausted) Error() string {
	return fmt.Sprintf("%s registry is full", e.What)
}

// ErrUnknown is returned when an id has no matching active entry.
type ErrUnknown struct {
	What string
	ID   uint64
}

func (e *ErrUnknown) Error() string {
	return fmt.Sprintf("unknown %s id %d", e.What, e.ID)
}
