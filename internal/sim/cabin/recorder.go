package cabin

import (
	"time"

	"shipcabin.ai/internal/sim/cabin/model"
	"shipcabin.ai/internal/sim/cabin/tracker"
)

// TransitEntry is one handled interaction.
type TransitEntry struct {
	Time        time.Time      `json:"time"`
	Actor       string         `json:"actor"`
	Object      uint64         `json:"object"`
	Trigger     Trigger        `json:"trigger"`
	Outcome     Outcome        `json:"outcome"`
	Serial      uint64         `json:"serial,omitempty"`
	Destination model.Location `json:"destination"`
	Source      tracker.Source `json:"source,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// InstanceEntry is one created cabin.
type InstanceEntry struct {
	Time     time.Time      `json:"time"`
	Serial   uint64         `json:"serial"`
	Template string         `json:"template"`
	Door     uint64         `json:"door"`
	File     string         `json:"file"`
	MapPath  string         `json:"map_path"`
	EnterX   int            `json:"enter_x"`
	EnterY   int            `json:"enter_y"`
	Vessel   model.Location `json:"vessel"`
}

// Recorder receives audit entries. Implementations must not block for long;
// they run on the interaction path.
type Recorder interface {
	RecordTransit(TransitEntry)
	RecordInstance(InstanceEntry)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransit(TransitEntry)   {}
func (nopRecorder) RecordInstance(InstanceEntry) {}

// Recorders fans entries out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordTransit(e TransitEntry) {
	for _, r := range rs {
		if r != nil {
			r.RecordTransit(e)
		}
	}
}

func (rs Recorders) RecordInstance(e InstanceEntry) {
	for _, r := range rs {
		if r != nil {
			r.RecordInstance(e)
		}
	}
}
