// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ampsim/internal/log"
	"ampsim/internal/monitor"
	"ampsim/internal/transport"
)

// PacketSize is the length of every monitor packet.
const PacketSize = 4 + 8 + 4 + 4

var ErrShortPacket = errors.New("udp: short packet")

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Peak              | float32        | 4            | Linear output peak      |
| Pitch             | float32        | 4            | Hz, 0 when none         |
+-----------------------------------------------------------------------------+
*/

// Packet is the decoded form of one monitor packet.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Snapshot  monitor.Snapshot
}

// Encode writes p into buf, which must hold PacketSize bytes.
func (p Packet) Encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:], p.Seq)
	binary.BigEndian.PutUint64(buf[4:], uint64(p.Timestamp))
	binary.BigEndian.PutUint32(buf[12:], math.Float32bits(p.Snapshot.Peak))
	binary.BigEndian.PutUint32(buf[16:], math.Float32bits(p.Snapshot.Pitch))
}

// Decode parses a packet produced by Encode.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < PacketSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(buf))
	}
	return Packet{
		Seq:       binary.BigEndian.Uint32(buf[0:]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[4:])),
		Snapshot: monitor.Snapshot{
			Peak:  math.Float32frombits(binary.BigEndian.Uint32(buf[12:])),
			Pitch: math.Float32frombits(binary.BigEndian.Uint32(buf[16:])),
		},
	}, nil
}

// UDPPublisher periodically reads the monitor, packs the snapshot into a
// Packet and sends it over UDP using a UDPSender.
// It runs in a separate goroutine managed by Start and Stop methods.
type UDPPublisher struct {
	sender   *UDPSender
	source   transport.SnapshotSource
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	sequenceNum uint32
	packet      [PacketSize]byte
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source transport.SnapshotSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("udp: sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("udp: snapshot source cannot be nil")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		log.Warnf("udp: invalid interval provided, defaulting to %s", interval)
	}

	return &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("udp: Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Captured so the goroutine does not race on p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("udp: publisher started (interval %s)", p.interval)
		for {
			select {
			case now := <-ticker.C:
				p.buildAndSendPacket(now)
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop gracefully signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	log.Debugf("udp: publisher stopped after %d packets", p.sequenceNum)
	return nil
}

func (p *UDPPublisher) buildAndSendPacket(now time.Time) {
	p.sequenceNum++
	pkt := Packet{
		Seq:       p.sequenceNum,
		Timestamp: now.UnixNano(),
		Snapshot:  p.source.Load(),
	}
	pkt.Encode(p.packet[:])

	if err := p.sender.Send(p.packet[:]); err != nil {
		log.Debugf("udp: packet %d: %v", p.sequenceNum, err)
	}
}

// Close stops the publisher and closes its sender.
func (p *UDPPublisher) Close() error {
	_ = p.Stop()
	return p.sender.Close()
}

// Ensure UDPPublisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*UDPPublisher)(nil)
