package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists evidence entries to Postgres. Entries are written
// with a plain INSERT and never touched again; the table carries no UPDATE
// or DELETE path in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const evidenceColumns = `id, campaign_id, evidence_type, payload, content_hash,
	previous_hash, timestamp_hash, digital_fingerprint, hash_chain,
	verification_hash, verification_signature, chain_position, collected_at`

// AppendEntry inserts the entry.
func (s *PostgresStore) AppendEntry(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal evidence payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evidence_entries (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.CampaignID, string(entry.Type), payload,
		entry.ContentHash, entry.PreviousHash, entry.TimestampHash,
		entry.DigitalFingerprint, entry.HashChain, entry.VerificationHash,
		entry.VerificationSignature, entry.ChainPosition, entry.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evidence entry: %w", err)
	}
	return nil
}

// ChainTail returns the highest-position entry for the campaign.
func (s *PostgresStore) ChainTail(ctx context.Context, campaignID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence_entries
		WHERE campaign_id = $1
		ORDER BY chain_position DESC
		LIMIT 1`, campaignID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query chain tail: %w", err)
	}
	return entry, nil
}

// LoadChain returns all entries for the campaign in chain order.
func (s *PostgresStore) LoadChain(ctx context.Context, campaignID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence_entries
		WHERE campaign_id = $1
		ORDER BY chain_position ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LoadEntry returns a single entry by id.
func (s *PostgresStore) LoadEntry(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence_entries
		WHERE id = $1`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query evidence entry: %w", err)
	}
	return entry, nil
}

// QueryEntries applies the query filters server-side.
func (s *PostgresStore) QueryEntries(ctx context.Context, query Query) ([]*Entry, error) {
	q := `SELECT ` + evidenceColumns + ` FROM evidence_entries WHERE 1=1`
	args := make([]interface{}, 0, 6)

	add := func(clause string, value interface{}) {
		args = append(args, value)
		q += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}

	if query.CampaignID != "" {
		add("campaign_id =", query.CampaignID)
	}
	if query.Type != "" {
		add("evidence_type =", string(query.Type))
	}
	if !query.StartTime.IsZero() {
		add("collected_at >=", query.StartTime)
	}
	if !query.EndTime.IsZero() {
		add("collected_at <=", query.EndTime)
	}

	q += " ORDER BY collected_at ASC"
	if query.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", query.Limit)
	}
	if query.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query evidence entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry       Entry
		evidenceTyp string
		payload     []byte
		prevHash    sql.NullString
		collectedAt time.Time
	)

	err := row.Scan(&entry.ID, &entry.CampaignID, &evidenceTyp, &payload,
		&entry.ContentHash, &prevHash, &entry.TimestampHash,
		&entry.DigitalFingerprint, &entry.HashChain, &entry.VerificationHash,
		&entry.VerificationSignature, &entry.ChainPosition, &collectedAt)
	if err != nil {
		return nil, err
	}

	entry.Type = Type(evidenceTyp)
	entry.CollectedAt = collectedAt.UTC()
	if prevHash.Valid {
		prev := prevHash.String
		entry.PreviousHash = &prev
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entry.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal evidence payload: %w", err)
		}
	}
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
