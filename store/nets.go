package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Net struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	WorkerID   *string   `json:"worker_id"`
	LoadState  string    `json:"load_state"`
	Definition string    `json:"definition,omitempty"`
	Owner      string    `json:"owner"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const netSelectCols = `id, name, worker_id, load_state, definition, owner, created_at, updated_at`

func scanNet(row interface{ Scan(...any) error }) (*Net, error) {
	var n Net
	var workerID sql.NullString
	var createdAt, updatedAt any
	err := row.Scan(&n.ID, &n.Name, &workerID, &n.LoadState, &n.Definition, &n.Owner, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if workerID.Valid {
		n.WorkerID = &workerID.String
	}
	n.CreatedAt = parseTime(createdAt)
	n.UpdatedAt = parseTime(updatedAt)
	return &n, nil
}

func scanNets(rows *sql.Rows) ([]*Net, error) {
	var nets []*Net
	for rows.Next() {
		n, err := scanNet(rows)
		if err != nil {
			return nil, err
		}
		nets = append(nets, n)
	}
	return nets, rows.Err()
}

func (db *DB) CreateNet(n *Net) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.LoadState == "" {
		n.LoadState = NetUnloaded
	}
	if n.Definition == "" {
		n.Definition = "{}"
	}
	_, err := db.Exec(db.Q(`INSERT INTO nets (id, name, worker_id, load_state, definition, owner) VALUES (?, ?, ?, ?, ?, ?)`),
		n.ID, n.Name, n.WorkerID, n.LoadState, n.Definition, n.Owner)
	if err != nil {
		return fmt.Errorf("create net: %w", err)
	}
	return nil
}

func (db *DB) GetNet(id string) (*Net, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM nets WHERE id=?`, netSelectCols)), id)
	return scanNet(row)
}

// ListNets returns nets owned by the given identity, or all nets when owner
// is empty.
func (db *DB) ListNets(owner string) ([]*Net, error) {
	var rows *sql.Rows
	var err error
	if owner == "" {
		rows, err = db.Query(fmt.Sprintf(`SELECT %s FROM nets ORDER BY created_at, id`, netSelectCols))
	} else {
		rows, err = db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM nets WHERE owner=? ORDER BY created_at, id`, netSelectCols)), owner)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNets(rows)
}

func (db *DB) ListNetsByWorker(workerID string) ([]*Net, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM nets WHERE worker_id=? ORDER BY created_at, id`, netSelectCols)), workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNets(rows)
}

func (t *Tx) DeleteNet(id string) error {
	res, err := t.Exec(t.Q(`DELETE FROM nets WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete net: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete net: net %s not found", id)
	}
	return nil
}

func (t *Tx) SetNetLoadState(id, state string) error {
	res, err := t.Exec(t.Q(`UPDATE nets SET load_state=?, updated_at=datetime('now','localtime') WHERE id=?`), state, id)
	if err != nil {
		return fmt.Errorf("set net load state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set net load state: net %s not found", id)
	}
	return nil
}

// SetNetWorker assigns a net to a worker, or unassigns it when workerID is nil.
func (t *Tx) SetNetWorker(id string, workerID *string) error {
	res, err := t.Exec(t.Q(`UPDATE nets SET worker_id=?, updated_at=datetime('now','localtime') WHERE id=?`), workerID, id)
	if err != nil {
		return fmt.Errorf("set net worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set net worker: net %s not found", id)
	}
	return nil
}
