package pipeline

import (
	"time"

	"github.com/danmuck/kbclient/internal/bridge"
)

// ModuleData is one source's contribution to an Item.
type ModuleData struct {
	Source string
	Bundle *bridge.SourceBundle
}

// Item is the data extracted for one Selection from one train. For wildcard
// selections Modules has one slot per module, nil where the module was
// missing from the reply.
type Item struct {
	TrainID  uint64
	Category string
	Source   string
	Property string
	Modules  []*ModuleData
}

// Present counts the modules that arrived.
func (it Item) Present() int {
	n := 0
	for _, m := range it.Modules {
		if m != nil {
			n++
		}
	}
	return n
}

// Train is one decoded reply plus the items extracted for the current
// selections. The consumer owns it and must call Release when done.
type Train struct {
	ID          uint64
	HasID       bool
	Data        bridge.Data
	Items       []Item
	ReceivedAt  time.Time
	Acquisition time.Duration
}

func (t *Train) Release() {
	t.Data.Release()
}
