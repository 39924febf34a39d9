package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Worker struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	StatusDetail string    `json:"status_detail,omitempty"`
	MachineID    string    `json:"machine_id,omitempty"`
	Owner        string    `json:"owner"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const workerSelectCols = `id, name, category, status, status_detail, machine_id, owner, created_at, updated_at`

func scanWorker(row interface{ Scan(...any) error }) (*Worker, error) {
	var w Worker
	var createdAt, updatedAt any
	err := row.Scan(&w.ID, &w.Name, &w.Category, &w.Status, &w.StatusDetail, &w.MachineID, &w.Owner, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

func scanWorkers(rows *sql.Rows) ([]*Worker, error) {
	var workers []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

func (db *DB) CreateWorker(w *Worker) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Category == "" {
		w.Category = CategoryEphemeral
	}
	if w.Status == "" {
		w.Status = WorkerPending
	}
	_, err := db.Exec(db.Q(`INSERT INTO workers (id, name, category, status, status_detail, machine_id, owner) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		w.ID, w.Name, w.Category, w.Status, w.StatusDetail, w.MachineID, w.Owner)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

func (db *DB) GetWorker(id string) (*Worker, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM workers WHERE id=?`, workerSelectCols)), id)
	return scanWorker(row)
}

// ListWorkers returns workers owned by the given identity, or all workers
// when owner is empty.
func (db *DB) ListWorkers(owner string) ([]*Worker, error) {
	var rows *sql.Rows
	var err error
	if owner == "" {
		rows, err = db.Query(fmt.Sprintf(`SELECT %s FROM workers ORDER BY created_at, id`, workerSelectCols))
	} else {
		rows, err = db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM workers WHERE owner=? ORDER BY created_at, id`, workerSelectCols)), owner)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func (db *DB) ListWorkersByStatus(status string) ([]*Worker, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM workers WHERE status=? ORDER BY created_at, id`, workerSelectCols)), status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// SetWorkerMachineID records the external compute resource backing a worker.
func (db *DB) SetWorkerMachineID(id, machineID string) error {
	_, err := db.Exec(db.Q(`UPDATE workers SET machine_id=?, updated_at=datetime('now','localtime') WHERE id=?`), machineID, id)
	return err
}

// SetWorkerStatus updates status and detail inside a transaction. Fails if
// the worker row does not exist so a bad cascade aborts the whole commit.
func (t *Tx) SetWorkerStatus(id, status, detail string) error {
	res, err := t.Exec(t.Q(`UPDATE workers SET status=?, status_detail=?, updated_at=datetime('now','localtime') WHERE id=?`),
		status, detail, id)
	if err != nil {
		return fmt.Errorf("set worker status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("set worker status: worker %s not found", id)
	}
	return nil
}

func (t *Tx) DeleteWorker(id string) error {
	res, err := t.Exec(t.Q(`DELETE FROM workers WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete worker: worker %s not found", id)
	}
	return nil
}
