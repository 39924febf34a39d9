package store

import (
	"time"
)

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

func (db *DB) CreateUser(username, passwordHash string) error {
	_, err := db.Exec(db.Q(`INSERT INTO users (username, password_hash) VALUES (?, ?)`), username, passwordHash)
	return err
}

func (db *DB) GetUser(username string) (*User, error) {
	var u User
	var createdAt any
	err := db.QueryRow(db.Q(`SELECT id, username, password_hash, created_at FROM users WHERE username=?`), username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (db *DB) UserExists() (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count > 0, err
}
