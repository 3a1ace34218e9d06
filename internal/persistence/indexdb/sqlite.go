package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"shipcabin.ai/internal/persistence/snapshot"
	"shipcabin.ai/internal/sim/cabin"
	"shipcabin.ai/internal/sim/catalogs"
	"shipcabin.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTransit  atomic.Uint64
	dropInstance atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTransit reqKind = iota + 1
	reqInstance
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	transit  cabin.TransitEntry
	instance cabin.InstanceEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	SavedAt    string
	Path       string
	WorldID    string
	Maps       int
	Objects    int
	Characters int
}

// Stats reports queue pressure. Entries are dropped rather than stalling the
// interaction path when the writer falls behind.
type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTransitTotal  uint64
	DropInstanceTotal uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS instances (
			serial INTEGER PRIMARY KEY,
			template TEXT NOT NULL,
			door INTEGER NOT NULL,
			file TEXT NOT NULL,
			map_path TEXT NOT NULL,
			enter_x INTEGER NOT NULL,
			enter_y INTEGER NOT NULL,
			vessel_map TEXT NOT NULL,
			vessel_x INTEGER NOT NULL,
			vessel_y INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			actor TEXT NOT NULL,
			object INTEGER NOT NULL,
			trig TEXT NOT NULL,
			outcome TEXT NOT NULL,
			serial INTEGER NOT NULL,
			dest_map TEXT NOT NULL,
			dest_x INTEGER NOT NULL,
			dest_y INTEGER NOT NULL,
			source TEXT,
			error TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transits_actor ON transits(actor, id);`,
		`CREATE INDEX IF NOT EXISTS idx_transits_serial ON transits(serial, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			saved_at TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			world_id TEXT NOT NULL,
			maps INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			characters INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the handle for read queries. Writes go through the writer goroutine.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTransitTotal:  s.dropTransit.Load(),
		DropInstanceTotal: s.dropInstance.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) RecordTransit(e cabin.TransitEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTransit, transit: e}:
	default:
		// JSONL logs remain the source of truth.
		s.dropTransit.Add(1)
	}
}

func (s *SQLiteIndex) RecordInstance(e cabin.InstanceEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqInstance, instance: e}:
	default:
		s.dropInstance.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.WorldV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		SavedAt:    snap.Header.SavedAt,
		Path:       path,
		WorldID:    snap.Header.WorldID,
		Maps:       len(snap.Maps),
		Objects:    countObjects(snap),
		Characters: len(snap.Characters),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func countObjects(snap snapshot.WorldV1) int {
	var walk func([]snapshot.ObjectV1) int
	walk = func(objs []snapshot.ObjectV1) int {
		n := len(objs)
		for _, o := range objs {
			n += walk(o.Inventory)
		}
		return n
	}
	total := 0
	for _, m := range snap.Maps {
		total += walk(m.Objects)
	}
	return total
}

// Sync blocks until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	rows := catalogRows(cats, tune)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.data) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

func catalogRows(cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	if cats != nil && len(cats.Archetypes.Raw) > 0 {
		rows = append(rows, catalogRow{name: "archetypes", digest: cats.Archetypes.Digest, data: cats.Archetypes.Raw})
	}
	// Tuning: store the values we actually apply (canonical JSON).
	if b, err := json.Marshal(tune); err == nil && len(b) > 0 {
		sum := sha256.Sum256(b)
		rows = append(rows, catalogRow{name: "tuning", digest: hex.EncodeToString(sum[:]), data: b})
	}
	return rows
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTransit, _ := s.db.Prepare(`INSERT INTO transits(at,actor,object,trig,outcome,serial,dest_map,dest_x,dest_y,source,error,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertInstance, _ := s.db.Prepare(`INSERT OR REPLACE INTO instances(serial,template,door,file,map_path,enter_x,enter_y,vessel_map,vessel_x,vessel_y,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(saved_at,path,world_id,maps,objects,characters) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTransit, insertInstance, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			// Idle transactions hold the only connection; release it for readers.
			flushIfNeeded()
			continue
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTransit:
			e := r.transit
			raw, _ := json.Marshal(e)
			if insertTransit != nil {
				if _, err := tx.Stmt(insertTransit).Exec(
					e.Time.Format(time.RFC3339Nano),
					e.Actor,
					int64(e.Object),
					string(e.Trigger),
					string(e.Outcome),
					int64(e.Serial),
					e.Destination.Map,
					e.Destination.X,
					e.Destination.Y,
					string(e.Source),
					e.Error,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqInstance:
			e := r.instance
			if insertInstance != nil {
				if _, err := tx.Stmt(insertInstance).Exec(
					int64(e.Serial),
					e.Template,
					int64(e.Door),
					e.File,
					e.MapPath,
					e.EnterX,
					e.EnterY,
					e.Vessel.Map,
					e.Vessel.X,
					e.Vessel.Y,
					e.Time.Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.SavedAt,
					sn.Path,
					sn.WorldID,
					sn.Maps,
					sn.Objects,
					sn.Characters,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}
}
