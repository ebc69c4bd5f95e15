package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the transcript table.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	dedup_key   TEXT        PRIMARY KEY,
	server_id   BIGINT      NOT NULL DEFAULT 0,
	client_id   UUID        NOT NULL,
	author      TEXT        NOT NULL,
	body        TEXT        NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL
)`

// Row is one archived message.
type Row struct {
	Key        string // See DedupKey
	ServerID   int64
	ClientID   string
	Author     string
	Body       string
	SentAt     time.Time
	ArchivedAt time.Time
}

// DedupKey identifies a message across the live stream and history
// snapshots. The server id wins when present; sent_at only counts when
// nothing else identifies the message, since records without a timestamp
// are stamped at receipt and differ between the two paths.
func DedupKey(serverID int64, clientID, author string, sentAt time.Time) string {
	switch {
	case serverID != 0:
		return "s:" + strconv.FormatInt(serverID, 10)
	case clientID != "" && clientID != nilUUID:
		return "c:" + clientID
	default:
		return "a:" + author + "|" + strconv.FormatInt(sentAt.UnixNano(), 10)
	}
}

const nilUUID = "00000000-0000-0000-0000-000000000000"

// Inserter stores batches of rows. It reports how many rows already existed.
type Inserter interface {
	Insert(ctx context.Context, rows []Row) (conflicts int, err error)
}

// Store writes rows to PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the transcript table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create chat_messages: %w", err)
	}
	return nil
}

// Insert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *Store) Insert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO chat_messages (dedup_key, server_id, client_id, author, body, sent_at, archived_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (dedup_key) DO NOTHING
		`, r.Key, r.ServerID, r.ClientID, r.Author, r.Body, r.SentAt, r.ArchivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
