package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/advisorlabs/clerk/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	memory JSONB,
	related_email_id TEXT NOT NULL DEFAULT '',
	related_contact_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);

CREATE TABLE IF NOT EXISTS instructions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	instruction TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_instructions_user ON instructions(user_id, is_active);

CREATE TABLE IF NOT EXISTS consents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	is_granted BOOLEAN NOT NULL,
	allowed_hour_start INT,
	allowed_hour_end INT,
	max_per_day INT NOT NULL DEFAULT 0,
	granted_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	use_count INT NOT NULL DEFAULT 0,
	day_use_count INT NOT NULL DEFAULT 0,
	use_day TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE(user_id, action_type)
);

CREATE TABLE IF NOT EXISTS audit_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	user_email TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	details JSONB,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	ip_address TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	endpoint TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id, created_at);
`

// PostgresConfig controls connection pool behavior.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection and bootstraps the schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection without bootstrapping
// the schema. Used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = raw
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, role, content, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.UserID, string(msg.Role), msg.Content, toolCalls, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, tool_calls, created_at
		 FROM chat_messages WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role string
		var toolCalls []byte
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &toolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	memory, err := marshalJSONColumn(task.Memory)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		task.ID, task.UserID, task.Description, string(task.Status), memory,
		task.RelatedEmailID, task.RelatedContactID, task.CreatedAt, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, userID, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE id = $1 AND user_id = $2`, taskID, userID)
	return scanTask(row)
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	memory, err := marshalJSONColumn(task.Memory)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description = $1, status = $2, memory = $3, related_email_id = $4, related_contact_id = $5, updated_at = $6, completed_at = $7
		 WHERE id = $8 AND user_id = $9`,
		task.Description, string(task.Status), memory, task.RelatedEmailID, task.RelatedContactID,
		task.UpdatedAt, task.CompletedAt, task.ID, task.UserID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActiveTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE user_id = $1 AND status NOT IN ('completed', 'failed')
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE status = 'waiting' AND updated_at < $1
		 ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("query waiting tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) SaveInstruction(ctx context.Context, inst *models.Instruction) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instructions (id, user_id, instruction, trigger_type, is_active, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET instruction = EXCLUDED.instruction,
			trigger_type = EXCLUDED.trigger_type, is_active = EXCLUDED.is_active`,
		inst.ID, inst.UserID, inst.Instruction, string(inst.TriggerType),
		inst.IsActive, inst.CreatedAt, inst.LastUsedAt)
	if err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveInstructions(ctx context.Context, userID string) ([]*models.Instruction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction, trigger_type, is_active, created_at, last_used_at
		 FROM instructions WHERE user_id = $1 AND is_active ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()
	return scanPGInstructions(rows)
}

func (s *PostgresStore) MatchingInstructions(ctx context.Context, userID, eventType string) ([]*models.Instruction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction, trigger_type, is_active, created_at, last_used_at
		 FROM instructions WHERE user_id = $1 AND is_active AND trigger_type IN ($2, 'always')
		 ORDER BY created_at ASC`, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()
	return scanPGInstructions(rows)
}

func (s *PostgresStore) TouchInstruction(ctx context.Context, id string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instructions SET last_used_at = $1 WHERE id = $2`, usedAt, id)
	if err != nil {
		return fmt.Errorf("touch instruction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeactivateInstruction(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instructions SET is_active = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deactivate instruction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetConsent(ctx context.Context, userID, actionType string) (*models.Consent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, action_type, scope, is_granted, allowed_hour_start, allowed_hour_end, max_per_day,
			granted_at, revoked_at, expires_at, last_used_at, use_count, day_use_count, use_day, created_at, updated_at
		 FROM consents WHERE user_id = $1 AND action_type = $2`, userID, actionType)
	return scanPGConsent(row)
}

func (s *PostgresStore) GrantConsent(ctx context.Context, consent *models.Consent) error {
	if consent.ID == "" {
		consent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if consent.GrantedAt.IsZero() {
		consent.GrantedAt = now
	}
	consent.IsGranted = true
	consent.RevokedAt = nil
	start, end, maxPerDay := consentConditionColumns(consent.Conditions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consents (id, user_id, action_type, scope, is_granted, allowed_hour_start, allowed_hour_end, max_per_day,
			granted_at, revoked_at, expires_at, use_count, day_use_count, use_day, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $8, NULL, $9, 0, 0, '', $10, $10)
		 ON CONFLICT (user_id, action_type) DO UPDATE SET
			scope = EXCLUDED.scope,
			is_granted = TRUE,
			allowed_hour_start = EXCLUDED.allowed_hour_start,
			allowed_hour_end = EXCLUDED.allowed_hour_end,
			max_per_day = EXCLUDED.max_per_day,
			granted_at = EXCLUDED.granted_at,
			revoked_at = NULL,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		consent.ID, consent.UserID, consent.ActionType, consent.Scope,
		start, end, maxPerDay, consent.GrantedAt, consent.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeConsent(ctx context.Context, userID, actionType string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consents SET is_granted = FALSE, revoked_at = $1, updated_at = $1
		 WHERE user_id = $2 AND action_type = $3 AND is_granted`,
		at, userID, actionType)
	if err != nil {
		return false, fmt.Errorf("revoke consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) UseConsent(ctx context.Context, userID, actionType string, now time.Time) (bool, error) {
	day := models.UseDayKey(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE consents SET
			use_count = use_count + 1,
			last_used_at = $1,
			day_use_count = CASE WHEN use_day = $2 THEN day_use_count + 1 ELSE 1 END,
			use_day = $2,
			updated_at = $1
		 WHERE user_id = $3 AND action_type = $4
			AND is_granted AND revoked_at IS NULL
			AND (expires_at IS NULL OR expires_at > $1)
			AND (max_per_day <= 0 OR (CASE WHEN use_day = $2 THEN day_use_count ELSE 0 END) < max_per_day)`,
		now, day, userID, actionType)
	if err != nil {
		return false, fmt.Errorf("use consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) ListConsents(ctx context.Context, userID string) ([]*models.Consent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action_type, scope, is_granted, allowed_hour_start, allowed_hour_end, max_per_day,
			granted_at, revoked_at, expires_at, last_used_at, use_count, day_use_count, use_day, created_at, updated_at
		 FROM consents WHERE user_id = $1 ORDER BY action_type ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Consent
	for rows.Next() {
		c, err := scanPGConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	details, err := marshalJSONColumn(rec.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, user_id, user_email, action, resource_type, resource_id, details, status, error_message, ip_address, user_agent, endpoint, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.UserID, rec.UserEmail, rec.Action, rec.ResourceType, rec.ResourceID,
		details, string(rec.Status), rec.ErrorMessage, rec.IPAddress, rec.UserAgent, rec.Endpoint, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditRecords(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if userID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, user_email, action, resource_type, resource_id, details, status, error_message, ip_address, user_agent, endpoint, created_at
			 FROM audit_records WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, user_id, user_email, action, resource_type, resource_id, details, status, error_message, ip_address, user_agent, endpoint, created_at
			 FROM audit_records ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var status string
		var details []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserEmail, &r.Action, &r.ResourceType, &r.ResourceID,
			&details, &status, &r.ErrorMessage, &r.IPAddress, &r.UserAgent, &r.Endpoint, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Status = models.AuditStatus(status)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanPGInstructions(rows *sql.Rows) ([]*models.Instruction, error) {
	var out []*models.Instruction
	for rows.Next() {
		var inst models.Instruction
		var trigger string
		var lastUsed sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.UserID, &inst.Instruction, &trigger, &inst.IsActive, &inst.CreatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		inst.TriggerType = models.TriggerType(trigger)
		if lastUsed.Valid {
			inst.LastUsedAt = &lastUsed.Time
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func scanPGConsent(row scanner) (*models.Consent, error) {
	var c models.Consent
	var start, end sql.NullInt64
	var maxPerDay int
	var revokedAt, expiresAt, lastUsedAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.ActionType, &c.Scope, &c.IsGranted, &start, &end, &maxPerDay,
		&c.GrantedAt, &revokedAt, &expiresAt, &lastUsedAt, &c.UseCount, &c.DayUseCount, &c.UseDay,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	if revokedAt.Valid {
		c.RevokedAt = &revokedAt.Time
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		c.LastUsedAt = &lastUsedAt.Time
	}
	if start.Valid || end.Valid || maxPerDay > 0 {
		c.Conditions = &models.ConsentConditions{MaxPerDay: maxPerDay}
		if start.Valid && end.Valid {
			c.Conditions.AllowedHours = &models.HourWindow{Start: int(start.Int64), End: int(end.Int64)}
		}
	}
	return &c, nil
}
