package store

import (
	"time"
)

// EventMessage is one staged event row. Rows are written in the same
// transaction as the state change they describe and published to the event
// channel only after that transaction commits.
type EventMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	EventType string
	Owner     string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

// EnqueueEvent stages an event inside the surrounding transaction.
func (t *Tx) EnqueueEvent(topic string, payload []byte, eventType, owner string) error {
	_, err := t.Exec(t.Q(`INSERT INTO event_outbox (topic, payload, event_type, owner) VALUES (?, ?, ?, ?)`),
		topic, payload, eventType, owner)
	return err
}

func (db *DB) ListPendingEvents(limit int) ([]*EventMessage, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, payload, event_type, owner, retries, created_at FROM event_outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*EventMessage
	for rows.Next() {
		var m EventMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.EventType, &m.Owner, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (db *DB) AckEvent(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE event_outbox SET sent_at=datetime('now','localtime') WHERE id=?`), id)
	return err
}

func (db *DB) IncrementEventRetries(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE event_outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}
