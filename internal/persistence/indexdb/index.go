// Package indexdb keeps a queryable secondary index of cabin activity. The JSONL
// transit logs stay the source of truth; index writes may be dropped under load.
package indexdb

import (
	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/tuning"
)

type Index interface {
	cabin.Recorder
	RecordSnapshot(path string, snap snapshot.WorldV1)
	UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error
	Close() error
}

var (
	_ Index = (*SQLiteIndex)(nil)
	_ Index = (*RemoteIndex)(nil)
)
