// SPDX-License-Identifier: MIT
package transport

import (
	"ampsim/internal/log"
)

// LoggingTransport implements the Transport interface by logging data at
// debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("transport: using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	if m, ok := data.(Message); ok {
		log.Debugf("transport: #%d peak %.1f dB pitch %.1f Hz %s", m.Seq, m.PeakDB, m.Pitch, m.Note)
		return nil
	}
	log.Debugf("transport: %+v", data)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error { return nil }

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
