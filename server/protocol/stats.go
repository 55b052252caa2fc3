package protocol

import (
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
)

const maxTrackedLatency = 10 * time.Second

// Stats counts the traffic of one session. A Transport is used from a single
// goroutine, so Stats is not synchronized.
type Stats struct {
	started         time.Time
	packetsSent     int64
	packetsReceived int64
	bytesSent       int64
	bytesReceived   int64
	writeLatency    *hdrhistogram.Histogram
}

func newStats() *Stats {
	return &Stats{
		started:      time.Now(),
		writeLatency: hdrhistogram.New(1, int64(maxTrackedLatency/time.Microsecond), 3),
	}
}

func (s *Stats) sent(n int, took time.Duration) {
	s.packetsSent++
	s.bytesSent += int64(n)
	us := int64(took / time.Microsecond)
	if us < 1 {
		us = 1
	}
	// Values beyond the tracked range are dropped from the histogram.
	_ = s.writeLatency.RecordValue(us)
}

func (s *Stats) received(n int) {
	s.packetsReceived++
	s.bytesReceived += int64(n)
}

// PacketsSent returns the number of ciphertext packets written.
func (s *Stats) PacketsSent() int64 { return s.packetsSent }

// PacketsReceived returns the number of ciphertext packets read.
func (s *Stats) PacketsReceived() int64 { return s.packetsReceived }

// BytesSent returns the number of ciphertext bytes written.
func (s *Stats) BytesSent() int64 { return s.bytesSent }

// BytesReceived returns the number of ciphertext bytes read.
func (s *Stats) BytesReceived() int64 { return s.bytesReceived }

// WriteLatency returns the write latency at quantile q (0-100).
func (s *Stats) WriteLatency(q float64) time.Duration {
	return time.Duration(s.writeLatency.ValueAtQuantile(q)) * time.Microsecond
}

// Age returns the time since the session started.
func (s *Stats) Age() time.Duration {
	return time.Since(s.started)
}

// String returns a human-readable summary of the session traffic.
func (s *Stats) String() string {
	return fmt.Sprintf("[Sent: %s packets (%s), Received: %s packets (%s), Write p99: %s, Age: %s]",
		humanize.Comma(s.packetsSent), humanize.Bytes(uint64(s.bytesSent)),
		humanize.Comma(s.packetsReceived), humanize.Bytes(uint64(s.bytesReceived)),
		s.WriteLatency(99), durafmt.Parse(s.Age().Round(time.Millisecond)))
}
