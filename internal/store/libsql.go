package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/fusserg007/botconstructor/internal/session"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// LibSQLStore implements Store on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database. The path should be a file URI,
// e.g. "file:/var/lib/botrunner/bots.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Bots ---

func (s *LibSQLStore) SaveBot(ctx context.Context, bot *BotRecord) error {
	if len(bot.Definition) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "bot %q has no definition", bot.ID)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (id, name, version, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, version=excluded.version,
		 definition=excluded.definition, updated_at=excluded.updated_at`,
		bot.ID, nullStr(bot.Name), nullStr(bot.Version), string(bot.Definition), timeOrNow(bot.CreatedAt), now,
	)
	if err != nil {
		return fmt.Errorf("save bot %s: %w", bot.ID, err)
	}
	bot.UpdatedAt = now
	return nil
}

func (s *LibSQLStore) GetBot(ctx context.Context, id string) (*BotRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, version, definition, created_at, updated_at FROM bots WHERE id = ?`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("bot", id)
	}
	return b, err
}

func (s *LibSQLStore) ListBots(ctx context.Context) ([]*BotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, version, definition, created_at, updated_at FROM bots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*BotRecord
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (s *LibSQLStore) DeleteBot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "bot", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(r rowScanner) (*BotRecord, error) {
	b := &BotRecord{}
	var name, version sql.NullString
	var def string
	if err := r.Scan(&b.ID, &name, &version, &def, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Name = name.String
	b.Version = version.String
	b.Definition = json.RawMessage(def)
	return b, nil
}

// --- Sessions ---

func (s *LibSQLStore) SaveSession(ctx context.Context, us *session.UserSession) error {
	payload, err := json.Marshal(us)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, session_id, platform, user_id, chat_id, payload, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET session_id=excluded.session_id,
		 payload=excluded.payload, last_activity=excluded.last_activity`,
		us.Key(), us.SessionID, us.Platform, us.UserID, us.ChatID, string(payload), timeOrNow(us.LastActivity),
	)
	return err
}

func (s *LibSQLStore) LoadSession(ctx context.Context, key string) (*session.UserSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE session_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("session", key)
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(payload)
}

func (s *LibSQLStore) DeleteSession(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
	return err
}

func (s *LibSQLStore) ListSessions(ctx context.Context) ([]*session.UserSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM sessions ORDER BY session_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.UserSession
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		us, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

// PurgeSessions deletes sessions idle since before cutoff.
func (s *LibSQLStore) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_activity < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func decodeSession(payload string) (*session.UserSession, error) {
	us := &session.UserSession{}
	if err := json.Unmarshal([]byte(payload), us); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "corrupt session payload").WithCause(err)
	}
	return us, nil
}

// --- Records ---

func (s *LibSQLStore) AppendRecord(ctx context.Context, rec *DataRecord) error {
	if rec.Collection == "" {
		return schema.NewError(schema.ErrCodeValidation, "record collection is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	data, err := marshalMapOrDefault(rec.Data)
	if err != nil {
		return fmt.Errorf("marshal record data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO data_records (id, bot_id, collection, execution_id, node_id, platform, user_id, chat_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullStr(rec.BotID), rec.Collection, nullStr(rec.ExecutionID), nullStr(rec.NodeID),
		nullStr(rec.Platform), nullStr(rec.UserID), nullStr(rec.ChatID), string(data), rec.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*DataRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.BotID != "" {
		where = append(where, "bot_id = ?")
		args = append(args, filter.BotID)
	}
	if filter.Collection != "" {
		where = append(where, "collection = ?")
		args = append(args, filter.Collection)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}

	q := `SELECT id, bot_id, collection, execution_id, node_id, platform, user_id, chat_id, data, created_at FROM data_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DataRecord
	for rows.Next() {
		r := &DataRecord{}
		var botID, execID, nodeID, platform, userID, chatID sql.NullString
		var data string
		if err := rows.Scan(&r.ID, &botID, &r.Collection, &execID, &nodeID, &platform, &userID, &chatID, &data, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.BotID, r.ExecutionID, r.NodeID = botID.String, execID.String, nodeID.String
		r.Platform, r.UserID, r.ChatID = platform.String, userID.String, chatID.String
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "corrupt record data").WithCause(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Run events ---

// AppendEvent stores an event with the next sequence number of its
// execution.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event execution id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (execution_id, bot_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.BotID), nullStr(event.NodeID), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return tx.Commit()
}

// GetEvents returns an execution's events with sequence > since, in order.
func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, bot_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE execution_id = ? AND sequence > ? ORDER BY sequence`,
		executionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsByType returns events of one type, oldest first.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	q := `SELECT id, execution_id, bot_id, node_id, event_type, payload, timestamp, sequence
		  FROM run_events WHERE event_type = ?`
	args := []any{eventType}
	if filter.BotID != "" {
		q += " AND bot_id = ?"
		args = append(args, filter.BotID)
	}
	if !filter.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	q += " ORDER BY id"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var botID, nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &botID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.BotID = botID.String
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
