package pipeline

import (
	"sync"
	"time"
)

// Stats is a snapshot of broker counters.
type Stats struct {
	Trains          uint64        `json:"trains"`
	Timeouts        uint64        `json:"timeouts"`
	ProtocolErrors  uint64        `json:"protocol_errors"`
	TransportErrors uint64        `json:"transport_errors"`
	BytesReceived   uint64        `json:"bytes_received"`
	LastTrainID     uint64        `json:"last_train_id"`
	AvgAcquisition  time.Duration `json:"avg_acquisition_ns"`
	QueueDepth      int           `json:"queue_depth"`
	QueueCapacity   int           `json:"queue_capacity"`
	Sources         []string      `json:"sources"`
}

// acquisitionWindow averages acquisition times over a fixed number of trains.
type acquisitionWindow struct {
	interval int
	count    int
	total    time.Duration
	last     time.Duration
}

// add records d and reports the window average once interval samples have
// accumulated, starting a new window.
func (w *acquisitionWindow) add(d time.Duration) (time.Duration, bool) {
	w.count++
	w.total += d
	if w.count < w.interval {
		return 0, false
	}
	avg := w.total / time.Duration(w.count)
	w.last = avg
	w.count, w.total = 0, 0
	return avg, true
}

type counters struct {
	mu sync.Mutex
	s  Stats
	w  acquisitionWindow
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	out.Sources = append([]string(nil), c.s.Sources...)
	out.AvgAcquisition = c.w.last
	return out
}
