// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"time"

	"ampsim/internal/log"
)

// DefaultInterval is used when a Pump is given a non-positive interval.
const DefaultInterval = 50 * time.Millisecond

// Pump periodically reads a SnapshotSource and sends a Message to a
// Transport. It runs in a separate goroutine managed by Start and Stop.
type Pump struct {
	source   SnapshotSource
	out      Transport
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	seq uint32
}

// NewPump returns a stopped Pump.
func NewPump(interval time.Duration, source SnapshotSource, out Transport) (*Pump, error) {
	if source == nil {
		return nil, errors.New("transport: snapshot source cannot be nil")
	}
	if out == nil {
		return nil, errors.New("transport: transport cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
		log.Warnf("transport: invalid interval, defaulting to %s", interval)
	}
	return &Pump{source: source, out: out, interval: interval}, nil
}

// Start launches the pump goroutine. Calling Start on a running Pump is a
// no-op.
func (p *Pump) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("transport: pump already running")
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case now := <-ticker.C:
				p.send(now)
			case <-doneChan:
				return
			}
		}
	}()
}

func (p *Pump) send(now time.Time) {
	p.seq++
	if err := p.out.Send(NewMessage(p.seq, now, p.source.Load())); err != nil {
		log.Debugf("transport: send %d: %v", p.seq, err)
	}
}

// Stop signals the goroutine and waits for it. Safe to call repeatedly.
func (p *Pump) Stop() error {
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
	return nil
}

// Close stops the pump and closes its transport.
func (p *Pump) Close() error {
	_ = p.Stop()
	return p.out.Close()
}
