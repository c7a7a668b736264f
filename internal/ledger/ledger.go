// Package ledger provides a verifiable, append-only audit trail of the kit's
// side effects: agents created, fed and destroyed, orders imported and
// requests executed. Every entry is hash-chained to the previous one.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Genesis is the previous hash of the first entry
const Genesis = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// timeLayout is fixed width so that stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the append-only audit ledger
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a ledger store over a database holding the ledger table
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Entry is an immutable audit log entry
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`      // "agent.created", "request.executed", ...
	Actor      string    `json:"actor"`       // "user", "kit", "system"
	EntityType string    `json:"entity_type"` // "agent", "project", "request", "orders"
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"` // JSON blob
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// Actions
const (
	ActionAgentCreated    = "agent.created"
	ActionAgentUpdated    = "agent.updated"
	ActionAgentsDestroyed = "agents.destroyed"
	ActionOrdersImported  = "orders.imported"
	ActionRequestExecuted = "request.executed"
)

// Actors
const (
	ActorUser   = "user"
	ActorKit    = "kit"
	ActorSystem = "system"
)

// Entity types
const (
	EntityAgent   = "agent"
	EntityProject = "project"
	EntityOrders  = "orders"
	EntityRequest = "request"
)

var knownActions = map[string]bool{
	ActionAgentCreated:    true,
	ActionAgentUpdated:    true,
	ActionAgentsDestroyed: true,
	ActionOrdersImported:  true,
	ActionRequestExecuted: true,
}

var knownActors = map[string]bool{ActorUser: true, ActorKit: true, ActorSystem: true}

// KnownAction reports whether the kit records action
func KnownAction(action string) bool { return knownActions[action] }

// KnownActor reports whether the kit writes as actor
func KnownActor(actor string) bool { return knownActors[actor] }

const columns = `id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash`

// Append adds a new entry chained to the last one. It is the only way to
// write to the ledger.
func (s *Store) Append(ctx context.Context, action, actor, entityType, entityID string, details interface{}) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailsJSON string
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	prevHash, err := s.lastHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    detailsJSON,
		PrevHash:   prevHash,
	}
	entry.Hash = computeHash(entry)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.Format(timeLayout), entry.Action, entry.Actor, entry.EntityType,
		entry.EntityID, entry.Details, entry.PrevHash, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	return entry, nil
}

// lastHash returns the hash of the most recently appended entry
func (s *Store) lastHash(ctx context.Context) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM ledger ORDER BY rowid DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return Genesis, nil
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}

// computeHash is the SHA-256 of the entry's canonical JSON, hash excluded
func computeHash(entry *Entry) string {
	canonical := struct {
		ID         string `json:"id"`
		Timestamp  string `json:"timestamp"`
		Action     string `json:"action"`
		Actor      string `json:"actor"`
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		Details    string `json:"details"`
		PrevHash   string `json:"prev_hash"`
	}{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp.UTC().Format(timeLayout),
		Action:     entry.Action,
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		PrevHash:   entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var entry Entry
	var timestamp string
	var entityType, entityID, details, prevHash sql.NullString

	if err := row.Scan(
		&entry.ID, &timestamp, &entry.Action, &entry.Actor,
		&entityType, &entityID, &details, &prevHash, &entry.Hash,
	); err != nil {
		return nil, err
	}

	ts, err := time.Parse(timeLayout, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp of %s: %w", entry.ID, err)
	}
	entry.Timestamp = ts.UTC()
	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.Details = details.String
	entry.PrevHash = prevHash.String
	return &entry, nil
}

// VerifyChain walks the ledger in append order and returns a *ChainError
// describing the first broken link, or nil.
func (s *Store) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM ledger ORDER BY rowid ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	expectedPrevHash := Genesis
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrevHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedPrevHash,
				ActualHash:   entry.PrevHash,
				Type:         "chain_broken",
			}
		}

		if expectedHash := computeHash(entry); entry.Hash != expectedHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedHash,
				ActualHash:   entry.Hash,
				Type:         "hash_mismatch",
			}
		}

		expectedPrevHash = entry.Hash
	}

	return rows.Err()
}

// ChainError represents a broken chain
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string // "chain_broken" or "hash_mismatch"
}

func (e *ChainError) Error() string {
	if e.Type == "chain_broken" {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, abbrev(e.ExpectedHash), abbrev(e.ActualHash))
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, abbrev(e.ExpectedHash), abbrev(e.ActualHash))
}

func abbrev(hash string) string {
	if len(hash) <= 16 {
		return hash
	}
	return hash[:16] + "..."
}

// QueryOptions filters listed entries
type QueryOptions struct {
	Action     string
	Actor      string
	EntityType string
	EntityID   string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// Query returns the entries matching opts, most recent first
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	query := `SELECT ` + columns + ` FROM ledger WHERE 1=1`
	var args []interface{}

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}
	if !opts.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, opts.Until.UTC().Format(timeLayout))
	}

	query += " ORDER BY rowid DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetByID returns a single entry, or nil when it does not exist
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM ledger WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return entry, nil
}

// GetRecent returns the most recent entries
func (s *Store) GetRecent(ctx context.Context, limit int) ([]*Entry, error) {
	return s.Query(ctx, QueryOptions{Limit: limit})
}

// GetEntityHistory returns all entries for one entity
func (s *Store) GetEntityHistory(ctx context.Context, entityType, entityID string) ([]*Entry, error) {
	return s.Query(ctx, QueryOptions{EntityType: entityType, EntityID: entityID})
}

// Count returns the number of entries
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger").Scan(&count)
	return count, err
}

// Summary statistics
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	FirstEntry   *time.Time     `json:"first_entry,omitempty"`
	LastEntry    *time.Time     `json:"last_entry,omitempty"`
	ByAction     map[string]int `json:"by_action"`
	ByActor      map[string]int `json:"by_actor"`
	ChainValid   bool           `json:"chain_valid"`
	ChainError   string         `json:"chain_error,omitempty"`
}

// GetSummary returns statistics about the ledger and checks its chain
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		ByAction: make(map[string]int),
		ByActor:  make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger").Scan(&summary.TotalEntries); err != nil {
		return nil, err
	}

	var first, last sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM ledger").Scan(&first, &last); err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeLayout, first.String); first.Valid && err == nil {
		summary.FirstEntry = &t
	}
	if t, err := time.Parse(timeLayout, last.String); last.Valid && err == nil {
		summary.LastEntry = &t
	}

	var err error
	if summary.ByAction, err = s.countBy(ctx, "action"); err != nil {
		return nil, err
	}
	if summary.ByActor, err = s.countBy(ctx, "actor"); err != nil {
		return nil, err
	}

	if err := s.VerifyChain(ctx); err != nil {
		summary.ChainError = err.Error()
	} else {
		summary.ChainValid = true
	}

	return summary, nil
}

// countBy groups entries by one of the fixed columns action or actor
func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM ledger GROUP BY "+column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}
