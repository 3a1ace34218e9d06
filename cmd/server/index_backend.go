package main

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"shipcabin.ai/internal/persistence/indexdb"
)

func openRuntimeIndex(worldDir, worldID string, e serverEnv, disableDB bool, logger *log.Logger) (indexdb.Index, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(e.IndexBackend))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(worldDir, "index", "cabins.sqlite"))
	case "remote", "http":
		if strings.TrimSpace(e.IngestURL) == "" {
			return nil, fmt.Errorf("CABIN_INDEX_BACKEND=%s but CABIN_INDEX_INGEST_URL is empty", backend)
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      e.IngestURL,
			Token:         e.IngestToken,
			WorldID:       worldID,
			BatchSize:     e.IngestBatch,
			FlushInterval: e.IngestFlush,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported CABIN_INDEX_BACKEND: %s", backend)
	}
}
