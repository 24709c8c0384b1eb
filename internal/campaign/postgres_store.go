package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists campaigns to Postgres. Milestones and the decision
// snapshot are stored as jsonb columns; the hot filter columns (status,
// next_action_at) are first-class for the due-campaign scan.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const campaignColumns = `id, operator_name, operator_email, status,
	request_sent_at, last_inbound_at, last_inbound_id, last_inbound_body,
	decision_count, last_decision, milestones, next_action_at, created_at, updated_at`

// GetCampaign loads one campaign by id.
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1`, id)

	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign %s: %w", id, err)
	}
	return c, nil
}

// SaveCampaign upserts the campaign record.
func (s *PostgresStore) SaveCampaign(ctx context.Context, c *Campaign) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}

	var lastDecision []byte
	if c.LastDecision != nil {
		lastDecision, err = json.Marshal(c.LastDecision)
		if err != nil {
			return fmt.Errorf("marshal decision snapshot: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_inbound_at = EXCLUDED.last_inbound_at,
			last_inbound_id = EXCLUDED.last_inbound_id,
			last_inbound_body = EXCLUDED.last_inbound_body,
			decision_count = EXCLUDED.decision_count,
			last_decision = EXCLUDED.last_decision,
			milestones = EXCLUDED.milestones,
			next_action_at = EXCLUDED.next_action_at,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.OperatorName, c.OperatorEmail, string(c.Status),
		c.RequestSentAt, c.LastInboundAt, nullable(c.LastInboundID), nullable(c.LastInboundBody),
		c.DecisionCount, lastDecision, milestones, c.NextActionAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", c.ID, err)
	}
	return nil
}

// ListDue returns non-terminal campaigns whose next action is due.
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE next_action_at <= $1
		  AND status NOT IN ('completed', 'escalated', 'failed', 'cancelled')
		ORDER BY next_action_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var due []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	var (
		c             Campaign
		status        string
		lastInboundAt sql.NullTime
		inboundID     sql.NullString
		inboundBody   sql.NullString
		lastDecision  []byte
		milestones    []byte
	)

	err := row.Scan(&c.ID, &c.OperatorName, &c.OperatorEmail, &status,
		&c.RequestSentAt, &lastInboundAt, &inboundID, &inboundBody,
		&c.DecisionCount, &lastDecision, &milestones, &c.NextActionAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if lastInboundAt.Valid {
		t := lastInboundAt.Time.UTC()
		c.LastInboundAt = &t
	}
	c.LastInboundID = inboundID.String
	c.LastInboundBody = inboundBody.String

	if len(lastDecision) > 0 {
		var d StoredDecision
		if err := json.Unmarshal(lastDecision, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision snapshot: %w", err)
		}
		c.LastDecision = &d
	}
	if len(milestones) > 0 {
		if err := json.Unmarshal(milestones, &c.Milestones); err != nil {
			return nil, fmt.Errorf("unmarshal milestones: %w", err)
		}
	}
	return &c, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
