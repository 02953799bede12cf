package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// Store is the sqlite log of registration attempts. It is append-only from
// the gateway's point of view.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; :memory: databases are also per connection.
	db.SetMaxOpenConns(1)

	if err := initDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initDB(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		tx_hash TEXT,
		status TEXT NOT NULL, -- PENDING, CONFIRMED, REVERTED, FAILED
		error TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS submissions_tx_hash ON submissions (tx_hash);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO submissions (id, owner, name, unit_price, tx_hash, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		sub.ID, sub.Owner, sub.Name, sub.UnitPrice, nullable(sub.TxHash), sub.Status, nullable(sub.Error), sub.CreatedAt)
	return err
}

// Get finds a submission by id or by transaction hash.
func (s *Store) Get(ctx context.Context, ref string) (Submission, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner, name, unit_price, tx_hash, status, error, created_at FROM submissions WHERE id = ? OR tx_hash = ? ORDER BY created_at DESC LIMIT 1",
		ref, ref)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrSubmissionNotFound
	}
	return sub, err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, owner, name, unit_price, tx_hash, status, error, created_at FROM submissions ORDER BY created_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (Submission, error) {
	var (
		sub            Submission
		txHash, errMsg sql.NullString
		createdAt      time.Time
	)
	if err := row.Scan(&sub.ID, &sub.Owner, &sub.Name, &sub.UnitPrice, &txHash, &sub.Status, &errMsg, &createdAt); err != nil {
		return Submission{}, err
	}
	sub.TxHash = txHash.String
	sub.Error = errMsg.String
	sub.CreatedAt = createdAt.UTC()
	return sub, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
