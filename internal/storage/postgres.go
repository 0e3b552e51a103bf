package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/persona-relay/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db}
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) AppendMessage(ctx context.Context, msg *models.StoredMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	kind := msg.Kind
	if kind == "" {
		kind = "text"
	}
	query := `
		INSERT INTO messages (id, address, thread_id, content, direction, kind, ai_generated, confidence, context_used, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Address, msg.ThreadID, msg.Content, msg.Direction, kind,
		msg.AIGenerated, msg.Confidence, msg.ContextUsed, msg.ProcessingTime, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("error inserting message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

const messageColumns = `id, address, thread_id, content, direction, kind, ai_generated, confidence, context_used, processing_ms, created_at`

func scanMessages(rows *sql.Rows) ([]*models.StoredMessage, error) {
	var out []*models.StoredMessage
	for rows.Next() {
		m := &models.StoredMessage{}
		if err := rows.Scan(&m.ID, &m.Address, &m.ThreadID, &m.Content, &m.Direction, &m.Kind,
			&m.AIGenerated, &m.Confidence, &m.ContextUsed, &m.ProcessingTime, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) MessagesByAddress(ctx context.Context, address string, limit, offset int) ([]*models.StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, address, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStorage) SearchMessages(ctx context.Context, query string) ([]*models.StoredMessage, error) {
	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE content ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("error searching messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStorage) LedgerStats(ctx context.Context) (*models.LedgerStats, error) {
	stats := &models.LedgerStats{ByKind: make(map[string]int64)}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE direction = 'inbound'),
		       COUNT(*) FILTER (WHERE direction = 'outbound'),
		       COUNT(*) FILTER (WHERE ai_generated)
		FROM messages`
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Inbound, &stats.Outbound, &stats.AIGenerated); err != nil {
		return nil, fmt.Errorf("error aggregating messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM messages GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("error aggregating kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("error scanning kind count: %w", err)
		}
		stats.ByKind[kind] = count
	}
	return stats, rows.Err()
}

func (s *PostgresStorage) ContactByAddress(ctx context.Context, address string) (*models.Contact, error) {
	query := `
		SELECT id, address, name, relationship, relationship_label, context_profile_id,
		       priority, notes, custom_persona, message_count, last_message_at,
		       is_active, created_at, updated_at
		FROM contacts
		WHERE address = $1`

	c := &models.Contact{}
	var persona []byte
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&c.ID, &c.Address, &c.Name, &c.Relationship, &c.RelationshipLabel, &c.ContextProfileID,
		&c.Priority, &c.Notes, &persona, &c.MessageCount, &c.LastMessageAt,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying contact: %w", err)
	}
	if len(persona) > 0 {
		c.CustomPersona = &models.PersonaOverride{}
		if err := json.Unmarshal(persona, c.CustomPersona); err != nil {
			return nil, fmt.Errorf("error decoding custom persona: %w", err)
		}
	}
	return c, nil
}

func (s *PostgresStorage) UpsertContact(ctx context.Context, contact *models.Contact) error {
	if contact.ContextProfileID == "" {
		contact.ContextProfileID = models.DefaultProfileID
	}
	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_active FROM context_profiles WHERE id = $1`, contact.ContextProfileID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		return ErrUnknownProfile
	}
	if err != nil {
		return fmt.Errorf("error validating profile reference: %w", err)
	}

	var persona []byte
	if contact.CustomPersona != nil {
		persona, err = json.Marshal(contact.CustomPersona)
		if err != nil {
			return fmt.Errorf("error encoding custom persona: %w", err)
		}
	}

	query := `
		INSERT INTO contacts (id, address, name, relationship, relationship_label, context_profile_id,
		                      priority, notes, custom_persona, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			relationship = EXCLUDED.relationship,
			relationship_label = EXCLUDED.relationship_label,
			context_profile_id = EXCLUDED.context_profile_id,
			priority = EXCLUDED.priority,
			notes = EXCLUDED.notes,
			custom_persona = EXCLUDED.custom_persona,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err = s.db.QueryRowContext(ctx, query,
		contact.ID, contact.Address, contact.Name, contact.Relationship, contact.RelationshipLabel,
		contact.ContextProfileID, contact.Priority, contact.Notes, persona, contact.IsActive).
		Scan(&contact.ID, &contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error upserting contact: %w", err)
	}
	return nil
}

func (s *PostgresStorage) RecordInteraction(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET message_count = message_count + 1, last_message_at = NOW()
		WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("error recording interaction: %w", err)
	}
	return nil
}

const profileColumns = `id, personal_info, organization, instructions, is_default, is_active, usage_count, last_used_at, created_at, updated_at`

func (s *PostgresStorage) scanProfile(row *sql.Row) (*models.ContextProfile, error) {
	p := &models.ContextProfile{}
	var personal, org, instructions []byte
	err := row.Scan(&p.ID, &personal, &org, &instructions, &p.IsDefault, &p.IsActive,
		&p.UsageCount, &p.LastUsedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning profile: %w", err)
	}
	if err := json.Unmarshal(personal, &p.PersonalInfo); err != nil {
		return nil, fmt.Errorf("error decoding personal info: %w", err)
	}
	if len(org) > 0 {
		p.Organization = &models.OrganizationInfo{}
		if err := json.Unmarshal(org, p.Organization); err != nil {
			return nil, fmt.Errorf("error decoding organization info: %w", err)
		}
	}
	if err := json.Unmarshal(instructions, &p.Instructions); err != nil {
		return nil, fmt.Errorf("error decoding instructions: %w", err)
	}
	return p, nil
}

func (s *PostgresStorage) ProfileByID(ctx context.Context, id string) (*models.ContextProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM context_profiles WHERE id = $1`, id)
	return s.scanProfile(row)
}

func (s *PostgresStorage) DefaultProfile(ctx context.Context) (*models.ContextProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM context_profiles WHERE is_default AND is_active LIMIT 1`)
	return s.scanProfile(row)
}

func (s *PostgresStorage) SaveProfile(ctx context.Context, profile *models.ContextProfile) error {
	personal, err := json.Marshal(profile.PersonalInfo)
	if err != nil {
		return fmt.Errorf("error encoding personal info: %w", err)
	}
	var org []byte
	if profile.Organization != nil {
		if org, err = json.Marshal(profile.Organization); err != nil {
			return fmt.Errorf("error encoding organization info: %w", err)
		}
	}
	instructions, err := json.Marshal(profile.Instructions)
	if err != nil {
		return fmt.Errorf("error encoding instructions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if profile.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE context_profiles SET is_default = FALSE WHERE id <> $1`, profile.ID); err != nil {
			return fmt.Errorf("error clearing default flags: %w", err)
		}
	}

	query := `
		INSERT INTO context_profiles (id, personal_info, organization, instructions, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			personal_info = EXCLUDED.personal_info,
			organization = EXCLUDED.organization,
			instructions = EXCLUDED.instructions,
			is_default = EXCLUDED.is_default,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING created_at, updated_at`
	if err := tx.QueryRowContext(ctx, query,
		profile.ID, personal, org, instructions, profile.IsDefault, profile.IsActive).
		Scan(&profile.CreatedAt, &profile.UpdatedAt); err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing profile save: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteProfile(ctx context.Context, id string) error {
	var isDefault bool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_default FROM context_profiles WHERE id = $1`, id).Scan(&isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error checking profile: %w", err)
	}
	if isDefault {
		return ErrDefaultProfileProtected
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context_profiles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error deleting profile: %w", err)
	}
	return nil
}

func (s *PostgresStorage) IncrementUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE context_profiles
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error incrementing usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
