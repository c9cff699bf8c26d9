package server

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zmodsim/zmodsim/internal/protocol"
)

// clientConn is the internal per-connection tracking state. It contains
// atomics and a net.Conn, so it must not be copied. Beyond raw rx/tx counts
// it also tracks the two things specific to a simulated slave: frames this
// connection sent that got silently dropped (wrong protocol id or a unit id
// addressed to a different device) and responses that came back as Modbus
// exceptions, since both are useful signals when diagnosing a master against
// the simulator.
type clientConn struct {
	remoteAddr     string
	connectedAt    time.Time
	conn           net.Conn
	rxCount        atomic.Uint64
	txCount        atomic.Uint64
	droppedCount   atomic.Uint64
	exceptionCount atomic.Uint64
	lastActivity   atomic.Int64 // unix nanos
	fcCount        [256]atomic.Uint64
}

func newClientConn(conn net.Conn) *clientConn {
	c := &clientConn{
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		conn:        conn,
	}
	c.lastActivity.Store(c.connectedAt.UnixNano())
	return c
}

// recordRequest tallies a received frame that was handed to the engine.
func (c *clientConn) recordRequest(fc protocol.FunctionCode) {
	c.rxCount.Add(1)
	c.fcCount[fc].Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
}

// recordDrop tallies a received frame that was never answered, because it
// failed the protocol id check or was addressed to a different unit id.
func (c *clientConn) recordDrop() {
	c.droppedCount.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
}

// recordResponse tallies a sent response, separating exceptions from
// ordinary replies.
func (c *clientConn) recordResponse(resp protocol.PDU) {
	c.txCount.Add(1)
	if byte(resp.FunctionCode)&protocol.ExceptionBit != 0 {
		c.exceptionCount.Add(1)
	}
}

func (c *clientConn) snapshot() ConnectedClient {
	return ConnectedClient{
		RemoteAddr:         c.remoteAddr,
		ConnectedAt:        c.connectedAt,
		LastActivity:       time.Unix(0, c.lastActivity.Load()),
		RxTransactions:     c.rxCount.Load(),
		TxTransactions:     c.txCount.Load(),
		DroppedFrames:      c.droppedCount.Load(),
		ExceptionResponses: c.exceptionCount.Load(),
		FunctionCodeStats:  fcSnapshot(c),
	}
}

// ConnectedClient is a snapshot of a connected client's state, safe to copy
// and serialize. Exposed through internal/statusapi's /clients endpoint.
type ConnectedClient struct {
	RemoteAddr         string
	ConnectedAt        time.Time
	LastActivity       time.Time
	RxTransactions     uint64
	TxTransactions     uint64
	DroppedFrames      uint64
	ExceptionResponses uint64
	FunctionCodeStats  map[protocol.FunctionCode]uint64
}

// String returns a human-readable summary of the connected client.
func (c ConnectedClient) String() string {
	duration := time.Since(c.ConnectedAt).Truncate(time.Second)
	s := fmt.Sprintf("%s | connected %s | rx: %d tx: %d | dropped: %d | exceptions: %d",
		c.RemoteAddr, duration, c.RxTransactions, c.TxTransactions, c.DroppedFrames, c.ExceptionResponses)
	if len(c.FunctionCodeStats) > 0 {
		codes := make([]protocol.FunctionCode, 0, len(c.FunctionCodeStats))
		for fc := range c.FunctionCodeStats {
			codes = append(codes, fc)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

		parts := make([]string, 0, len(codes))
		for _, fc := range codes {
			parts = append(parts, fmt.Sprintf("%s=%d", fc, c.FunctionCodeStats[fc]))
		}
		s += " | fc: " + strings.Join(parts, " ")
	}
	return s
}

func fcSnapshot(c *clientConn) map[protocol.FunctionCode]uint64 {
	stats := make(map[protocol.FunctionCode]uint64)
	for i := range c.fcCount {
		if v := c.fcCount[i].Load(); v > 0 {
			stats[protocol.FunctionCode(i)] = v
		}
	}
	return stats
}
