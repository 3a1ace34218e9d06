package indexdb

import (
	"context"
	"database/sql"
	"strings"
)

type InstanceRow struct {
	Serial    uint64 `json:"serial"`
	Template  string `json:"template"`
	Door      uint64 `json:"door"`
	File      string `json:"file"`
	MapPath   string `json:"map_path"`
	EnterX    int    `json:"enter_x"`
	EnterY    int    `json:"enter_y"`
	VesselMap string `json:"vessel_map"`
	VesselX   int    `json:"vessel_x"`
	VesselY   int    `json:"vessel_y"`
	CreatedAt string `json:"created_at"`
}

type TransitRow struct {
	ID      int64  `json:"id"`
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Object  uint64 `json:"object"`
	Trigger string `json:"trigger"`
	Outcome string `json:"outcome"`
	Serial  uint64 `json:"serial"`
	DestMap string `json:"dest_map"`
	DestX   int    `json:"dest_x"`
	DestY   int    `json:"dest_y"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

type TransitFilter struct {
	Actor  string
	Serial uint64
	Limit  int
}

// QueryInstances lists created cabins in serial order.
func QueryInstances(ctx context.Context, db *sql.DB, limit int) ([]InstanceRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `SELECT serial,template,door,file,map_path,enter_x,enter_y,vessel_map,vessel_x,vessel_y,created_at
		FROM instances ORDER BY serial ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InstanceRow
	for rows.Next() {
		var r InstanceRow
		if err := rows.Scan(&r.Serial, &r.Template, &r.Door, &r.File, &r.MapPath, &r.EnterX, &r.EnterY,
			&r.VesselMap, &r.VesselX, &r.VesselY, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryTransits lists the most recent transits first.
func QueryTransits(ctx context.Context, db *sql.DB, f TransitFilter) ([]TransitRow, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	var (
		where []string
		args  []any
	)
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Serial != 0 {
		where = append(where, "serial = ?")
		args = append(args, int64(f.Serial))
	}
	q := `SELECT id,at,actor,object,trig,outcome,serial,dest_map,dest_x,dest_y,COALESCE(source,''),COALESCE(error,'') FROM transits`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransitRow
	for rows.Next() {
		var r TransitRow
		if err := rows.Scan(&r.ID, &r.At, &r.Actor, &r.Object, &r.Trigger, &r.Outcome, &r.Serial,
			&r.DestMap, &r.DestX, &r.DestY, &r.Source, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Instances(ctx context.Context, limit int) ([]InstanceRow, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	return QueryInstances(ctx, s.db, limit)
}

func (s *SQLiteIndex) Transits(ctx context.Context, f TransitFilter) ([]TransitRow, error) {
	if err := s.Sync(ctx); err != nil {
		return nil, err
	}
	return QueryTransits(ctx, s.db, f)
}
