// Package persistence provides SQLite-based simulation state storage.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/wfishell/MultiAgentGamePlay/internal/agents"
	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
	"github.com/wfishell/MultiAgentGamePlay/internal/engine"
	"github.com/wfishell/MultiAgentGamePlay/internal/world"
)

// DB wraps a SQLite connection for simulation state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		pos_row INTEGER NOT NULL,
		pos_col INTEGER NOT NULL,
		state INTEGER NOT NULL,
		dwell INTEGER NOT NULL,
		last_zone INTEGER NOT NULL,
		invalid INTEGER NOT NULL,
		item_json TEXT
	);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		pos_row INTEGER NOT NULL,
		pos_col INTEGER NOT NULL,
		zone_id INTEGER NOT NULL,
		delivery_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		item_id INTEGER PRIMARY KEY,
		agent_id INTEGER NOT NULL,
		pos_row INTEGER NOT NULL,
		pos_col INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		item_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS constraint_groups (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		owner TEXT NOT NULL,
		directive TEXT NOT NULL,
		formula TEXT NOT NULL,
		constraints_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_deliveries_tick ON deliveries(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type agentRow struct {
	ID       int            `db:"id"`
	Name     string         `db:"name"`
	Role     string         `db:"role"`
	Row      int            `db:"pos_row"`
	Col      int            `db:"pos_col"`
	State    int            `db:"state"`
	Dwell    int            `db:"dwell"`
	LastZone int            `db:"last_zone"`
	Invalid  bool           `db:"invalid"`
	ItemJSON sql.NullString `db:"item_json"`
}

type itemRow struct {
	ID           int    `db:"id"`
	Row          int    `db:"pos_row"`
	Col          int    `db:"pos_col"`
	ZoneID       int    `db:"zone_id"`
	DeliveryJSON string `db:"delivery_json"`
}

type deliveryRow struct {
	ItemID   int    `db:"item_id"`
	AgentID  int    `db:"agent_id"`
	Row      int    `db:"pos_row"`
	Col      int    `db:"pos_col"`
	Tick     uint64 `db:"tick"`
	ItemJSON string `db:"item_json"`
}

// GroupRecord is the stored view of a constraint group.
type GroupRecord struct {
	ID              int    `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	Owner           string `db:"owner" json:"owner"`
	Directive       string `db:"directive" json:"directive"`
	Formula         string `db:"formula" json:"formula"`
	ConstraintsJSON string `db:"constraints_json" json:"-"`
}

// gridRecord is the grid as stored in world_meta.
type gridRecord struct {
	Rows      int              `json:"rows"`
	Cols      int              `json:"cols"`
	Obstacles []world.Position `json:"obstacles"`
	Zones     []world.Zone     `json:"zones"`
}

func encodeGrid(g *world.Grid) gridRecord {
	rec := gridRecord{Rows: g.Rows(), Cols: g.Cols(), Zones: g.Zones()}
	for i := 0; i < g.Size(); i++ {
		p := g.At(i)
		if g.CellAt(p).IsObstacle() {
			rec.Obstacles = append(rec.Obstacles, p)
		}
	}
	return rec
}

func (r gridRecord) decode() (*world.Grid, error) {
	g, err := world.NewGrid(r.Rows, r.Cols)
	if err != nil {
		return nil, err
	}
	for _, p := range r.Obstacles {
		if !g.InBounds(p) {
			return nil, &world.ConfigurationError{Reason: fmt.Sprintf("stored obstacle %s out of bounds", p)}
		}
		g.SetObstacle(p)
	}
	for _, z := range r.Zones {
		if _, err := g.AddZone(z.Kind, z.Rect); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// saveAgents writes all agents to the database (full replace).
func saveAgents(tx *sqlx.Tx, list []agents.Agent) error {
	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, name, role, pos_row, pos_col, state, dwell, last_zone, invalid, item_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range list {
		var item sql.NullString
		if a.Item != nil {
			b, _ := json.Marshal(a.Item)
			item = sql.NullString{String: string(b), Valid: true}
		}
		_, err := stmt.Exec(a.ID, a.Name, a.Role.String(), a.Pos.Row, a.Pos.Col,
			int(a.State), a.Dwell, int(a.LastZone), a.Invalid, item)
		if err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}
	return nil
}

// saveItems writes the undelivered items (full replace).
func saveItems(tx *sqlx.Tx, items []agents.Item) error {
	if _, err := tx.Exec("DELETE FROM items"); err != nil {
		return err
	}
	for _, it := range items {
		rect, _ := json.Marshal(it.Delivery)
		_, err := tx.Exec(`INSERT INTO items (id, pos_row, pos_col, zone_id, delivery_json) VALUES (?, ?, ?, ?, ?)`,
			it.ID, it.Pos.Row, it.Pos.Col, int(it.Zone), string(rect))
		if err != nil {
			return fmt.Errorf("insert item %d: %w", it.ID, err)
		}
	}
	return nil
}

// saveDeliveries records deliveries not yet stored.
func saveDeliveries(tx *sqlx.Tx, list []agents.Delivery) error {
	for _, d := range list {
		item, _ := json.Marshal(d.Item)
		_, err := tx.Exec(`INSERT OR IGNORE INTO deliveries (item_id, agent_id, pos_row, pos_col, tick, item_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.Item.ID, d.Agent, d.Pos.Row, d.Pos.Col, d.Tick, string(item))
		if err != nil {
			return fmt.Errorf("insert delivery %d: %w", d.Item.ID, err)
		}
	}
	return nil
}

// saveGroups writes the constraint groups (full replace).
func saveGroups(tx *sqlx.Tx, groups []*constraints.Group) error {
	if _, err := tx.Exec("DELETE FROM constraint_groups"); err != nil {
		return err
	}
	for _, g := range groups {
		cs, _ := json.Marshal(g.Constraints)
		_, err := tx.Exec(`INSERT INTO constraint_groups (id, name, owner, directive, formula, constraints_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID, g.Name, g.Owner.String(), g.Current.Name, g.Current.Formula(), string(cs))
		if err != nil {
			return fmt.Errorf("insert group %d: %w", g.ID, err)
		}
	}
	return nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (tick, description, category) VALUES (?, ?, ?)",
			e.Tick, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	return saveMeta(db.conn, key, value)
}

func saveMeta(e sqlx.Execer, key, value string) error {
	_, err := e.Exec("INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveWorldState performs a full save of a snapshot and the group states in
// one transaction.
func (db *DB) SaveWorldState(snap engine.Snapshot, groups []*constraints.Group) error {
	slog.Info("saving world state", "tick", snap.Tick, "agents", len(snap.Agents), "items", len(snap.Items))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveAgents(tx, snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := saveItems(tx, snap.Items); err != nil {
		return fmt.Errorf("save items: %w", err)
	}
	if err := saveDeliveries(tx, snap.Delivered); err != nil {
		return fmt.Errorf("save deliveries: %w", err)
	}
	if err := saveGroups(tx, groups); err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	if g := snap.Grid(); g != nil {
		b, err := json.Marshal(encodeGrid(g))
		if err != nil {
			return err
		}
		if err := saveMeta(tx, "grid", string(b)); err != nil {
			return fmt.Errorf("save meta: %w", err)
		}
	}
	if err := saveMeta(tx, "run_id", snap.RunID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := saveMeta(tx, "last_tick", strconv.FormatUint(snap.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("world state saved", "tick", snap.Tick)
	return nil
}

// WorldState is everything needed to resume a run.
type WorldState struct {
	RunID     string
	Tick      uint64
	Grid      *world.Grid
	Agents    []*agents.Agent
	Items     []agents.Item
	Delivered []agents.Delivery
}

// LoadWorldState restores the last saved state. It returns nil and no error
// when nothing has been saved yet.
func (db *DB) LoadWorldState() (*WorldState, error) {
	lastTick, err := db.GetMeta("last_tick")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st := &WorldState{}
	if st.Tick, err = strconv.ParseUint(lastTick, 10, 64); err != nil {
		return nil, fmt.Errorf("last_tick: %w", err)
	}
	if st.RunID, err = db.GetMeta("run_id"); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if raw, err := db.GetMeta("grid"); err == nil {
		var rec gridRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
		if st.Grid, err = rec.decode(); err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	for _, r := range rows {
		role, err := agents.ParseRole(r.Role)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", r.ID, err)
		}
		a := agents.New(agents.AgentID(r.ID), role, world.Pos(r.Row, r.Col))
		a.Name = r.Name
		a.State = agents.State(r.State)
		a.Dwell = r.Dwell
		a.LastZone = world.ZoneID(r.LastZone)
		a.Invalid = r.Invalid
		if r.ItemJSON.Valid {
			var it agents.Item
			if err := json.Unmarshal([]byte(r.ItemJSON.String), &it); err != nil {
				return nil, fmt.Errorf("agent %d item: %w", r.ID, err)
			}
			a.Item = &it
		}
		st.Agents = append(st.Agents, a)
	}

	var items []itemRow
	if err := db.conn.Select(&items, "SELECT * FROM items ORDER BY id"); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	for _, r := range items {
		it := agents.Item{ID: agents.ItemID(r.ID), Pos: world.Pos(r.Row, r.Col), Zone: world.ZoneID(r.ZoneID)}
		if err := json.Unmarshal([]byte(r.DeliveryJSON), &it.Delivery); err != nil {
			return nil, fmt.Errorf("item %d: %w", r.ID, err)
		}
		st.Items = append(st.Items, it)
	}

	var dels []deliveryRow
	if err := db.conn.Select(&dels, "SELECT * FROM deliveries ORDER BY tick, item_id"); err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	for _, r := range dels {
		d := agents.Delivery{Agent: agents.AgentID(r.AgentID), Pos: world.Pos(r.Row, r.Col), Tick: r.Tick}
		if err := json.Unmarshal([]byte(r.ItemJSON), &d.Item); err != nil {
			return nil, fmt.Errorf("delivery %d: %w", r.ItemID, err)
		}
		st.Delivered = append(st.Delivered, d)
	}

	slog.Info("world state loaded", "tick", st.Tick, "agents", len(st.Agents), "items", len(st.Items), "delivered", len(st.Delivered))
	return st, nil
}

// Groups returns the stored constraint groups.
func (db *DB) Groups() ([]GroupRecord, error) {
	var out []GroupRecord
	err := db.conn.Select(&out, "SELECT * FROM constraint_groups ORDER BY id")
	return out, err
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	return events, err
}
