// Package sqlite implements store interfaces on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/huddleclaw/internal/store"
)

const defaultCodeTTL = time.Hour

// PairingStore implements store.PairingStore using SQLite.
type PairingStore struct {
	db      *sql.DB
	codeTTL time.Duration
	now     func() time.Time
}

// OpenPairingStore opens (creating if needed) the pairing database at path.
func OpenPairingStore(path string) (*PairingStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &PairingStore{db: db, codeTTL: defaultCodeTTL, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pairing migration failed: %w", err)
	}
	return s, nil
}

func (s *PairingStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pairing_requests (
		code        TEXT PRIMARY KEY,
		channel     TEXT NOT NULL,
		account_id  TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		sender_name TEXT,
		chat_id     TEXT,
		created_at  DATETIME NOT NULL,
		expires_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pairing_requests_sender ON pairing_requests(channel, account_id, sender_id);

	CREATE TABLE IF NOT EXISTS paired_senders (
		channel     TEXT NOT NULL,
		account_id  TEXT NOT NULL,
		sender_id   TEXT NOT NULL,
		sender_name TEXT,
		approved_at DATETIME NOT NULL,
		PRIMARY KEY (channel, account_id, sender_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// IsPaired implements store.PairingStore.
func (s *PairingStore) IsPaired(ctx context.Context, channel, accountID, senderID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paired_senders WHERE channel = ? AND account_id = ? AND sender_id = ?`,
		channel, accountID, senderID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pairing: %w", err)
	}
	return count > 0, nil
}

// RequestPairing implements store.PairingStore.
func (s *PairingStore) RequestPairing(ctx context.Context, req store.PairingRequest) (string, error) {
	now := s.now().UTC()

	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests
		 WHERE channel = ? AND account_id = ? AND sender_id = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		req.Channel, req.AccountID, req.SenderID, now,
	).Scan(&code)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("lookup pairing: %w", err)
	}

	code = newPairingCode()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pairing_requests (code, channel, account_id, sender_id, sender_name, chat_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		code, req.Channel, req.AccountID, req.SenderID, req.SenderName, req.ChatID, now, now.Add(s.codeTTL),
	)
	if err != nil {
		return "", fmt.Errorf("create pairing: %w", err)
	}
	return code, nil
}

// Approve implements store.PairingStore.
func (s *PairingStore) Approve(ctx context.Context, code string) (*store.PairedSender, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p store.PairedSender
	var name sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT channel, account_id, sender_id, sender_name FROM pairing_requests WHERE code = ? AND expires_at > ?`,
		code, now,
	).Scan(&p.Channel, &p.AccountID, &p.SenderID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrPairingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pairing: %w", err)
	}
	p.SenderName = name.String
	p.ApprovedAt = now

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO paired_senders (channel, account_id, sender_id, sender_name, approved_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.Channel, p.AccountID, p.SenderID, p.SenderName, p.ApprovedAt,
	); err != nil {
		return nil, fmt.Errorf("approve pairing: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pairing_requests WHERE channel = ? AND account_id = ? AND sender_id = ?`,
		p.Channel, p.AccountID, p.SenderID,
	); err != nil {
		return nil, fmt.Errorf("clear pairing requests: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Revoke implements store.PairingStore.
func (s *PairingStore) Revoke(ctx context.Context, channel, accountID, senderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM paired_senders WHERE channel = ? AND account_id = ? AND sender_id = ?`,
		channel, accountID, senderID,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListPending implements store.PairingStore. Expired requests are purged first.
func (s *PairingStore) ListPending(ctx context.Context) ([]store.PairingRequest, error) {
	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pairing_requests WHERE expires_at <= ?`, now); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT code, channel, account_id, sender_id, sender_name, chat_id, created_at, expires_at
		 FROM pairing_requests ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PairingRequest
	for rows.Next() {
		var r store.PairingRequest
		var name, chat sql.NullString
		if err := rows.Scan(&r.Code, &r.Channel, &r.AccountID, &r.SenderID, &name, &chat, &r.CreatedAt, &r.ExpiresAt); err != nil {
			return nil, err
		}
		r.SenderName, r.ChatID = name.String, chat.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListPaired implements store.PairingStore.
func (s *PairingStore) ListPaired(ctx context.Context) ([]store.PairedSender, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, account_id, sender_id, sender_name, approved_at FROM paired_senders ORDER BY approved_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PairedSender
	for rows.Next() {
		var p store.PairedSender
		var name sql.NullString
		if err := rows.Scan(&p.Channel, &p.AccountID, &p.SenderID, &name, &p.ApprovedAt); err != nil {
			return nil, err
		}
		p.SenderName = name.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close implements store.PairingStore.
func (s *PairingStore) Close() error { return s.db.Close() }

// newPairingCode returns an 8-character uppercase hex code.
func newPairingCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:8])
}

var _ store.PairingStore = (*PairingStore)(nil)
