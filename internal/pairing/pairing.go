// Package pairing links unknown senders to the relay through short
// one-time codes, persisted in a local SQLite database.
package pairing

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	codeLen        = 8
	codeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I
	defaultCodeTTL = 60 * time.Minute
)

// Store persists pairing codes and approved links. It implements the
// router's PairingChecker.
type Store struct {
	db      *sql.DB
	codeTTL time.Duration
}

// Options configures the pairing store.
type Options struct {
	Path    string        // database file path
	CodeTTL time.Duration // 0 = 60m
}

// Open creates or opens the pairing database and ensures its schema.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("pairing database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create pairing db dir: %w", err)
	}
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS pairing_codes (
		code       TEXT PRIMARY KEY,
		channel    TEXT NOT NULL,
		sender_id  TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS paired_senders (
		channel    TEXT NOT NULL,
		sender_id  TEXT NOT NULL,
		paired_at  INTEGER NOT NULL,
		PRIMARY KEY (channel, sender_id)
	);
	CREATE INDEX IF NOT EXISTS idx_codes_sender ON pairing_codes (channel, sender_id);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init pairing schema: %w", err)
	}

	ttl := opts.CodeTTL
	if ttl <= 0 {
		ttl = defaultCodeTTL
	}
	return &Store{db: db, codeTTL: ttl}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// IsPaired reports whether a sender has an approved link on a channel.
func (s *Store) IsPaired(channel, senderID string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM paired_senders WHERE channel = ? AND sender_id = ?`,
		channel, senderID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pairing lookup: %w", err)
	}
	return n > 0, nil
}

// IssueCode returns the sender's active pairing code, minting a fresh one
// when none exists or the previous one expired. Issuing is idempotent
// within the TTL so repeated messages reuse the same code.
func (s *Store) IssueCode(channel, senderID string) (string, error) {
	now := time.Now()

	var code string
	err := s.db.QueryRow(
		`SELECT code FROM pairing_codes
		 WHERE channel = ? AND sender_id = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		channel, senderID, now.Unix(),
	).Scan(&code)
	if err == nil {
		return code, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("pairing code lookup: %w", err)
	}

	code, err = randomCode()
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		`INSERT INTO pairing_codes (code, channel, sender_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		code, channel, senderID, now.Unix(), now.Add(s.codeTTL).Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("store pairing code: %w", err)
	}
	return code, nil
}

// Approve redeems a code: the sender it was issued to becomes paired and
// every code for that sender is consumed. Unknown or expired codes fail.
func (s *Store) Approve(code string) (channel, senderID string, err error) {
	now := time.Now()
	err = s.db.QueryRow(
		`SELECT channel, sender_id FROM pairing_codes
		 WHERE code = ? AND expires_at > ?`,
		code, now.Unix(),
	).Scan(&channel, &senderID)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("pairing code %q not found or expired", code)
	}
	if err != nil {
		return "", "", fmt.Errorf("pairing approve: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO paired_senders (channel, sender_id, paired_at)
		 VALUES (?, ?, ?)`,
		channel, senderID, now.Unix(),
	); err != nil {
		return "", "", fmt.Errorf("record pairing: %w", err)
	}
	if _, err := tx.Exec(
		`DELETE FROM pairing_codes WHERE channel = ? AND sender_id = ?`,
		channel, senderID,
	); err != nil {
		return "", "", fmt.Errorf("consume pairing codes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", "", err
	}
	return channel, senderID, nil
}

// Revoke removes a sender's pairing.
func (s *Store) Revoke(channel, senderID string) error {
	_, err := s.db.Exec(
		`DELETE FROM paired_senders WHERE channel = ? AND sender_id = ?`,
		channel, senderID,
	)
	return err
}

// ListPaired returns all approved links on a channel ("" = all channels).
func (s *Store) ListPaired(channel string) ([]PairedSender, error) {
	query := `SELECT channel, sender_id, paired_at FROM paired_senders`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY paired_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairedSender
	for rows.Next() {
		var p PairedSender
		var ts int64
		if err := rows.Scan(&p.Channel, &p.SenderID, &ts); err != nil {
			return nil, err
		}
		p.PairedAt = time.Unix(ts, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PairedSender is one approved link.
type PairedSender struct {
	Channel  string    `json:"channel"`
	SenderID string    `json:"senderId"`
	PairedAt time.Time `json:"pairedAt"`
}

// Prune deletes expired codes. Called periodically by the gateway.
func (s *Store) Prune() error {
	_, err := s.db.Exec(`DELETE FROM pairing_codes WHERE expires_at <= ?`, time.Now().Unix())
	return err
}

func randomCode() (string, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
