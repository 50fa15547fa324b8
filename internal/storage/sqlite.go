package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/advisorlabs/clerk/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	memory TEXT,
	related_email_id TEXT,
	related_contact_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);

CREATE TABLE IF NOT EXISTS instructions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	instruction TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL,
	last_used_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_instructions_user ON instructions(user_id, is_active);

CREATE TABLE IF NOT EXISTS consents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	scope TEXT,
	is_granted INTEGER NOT NULL,
	allowed_hour_start INTEGER,
	allowed_hour_end INTEGER,
	max_per_day INTEGER NOT NULL DEFAULT 0,
	granted_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP,
	expires_at TIMESTAMP,
	last_used_at TIMESTAMP,
	use_count INTEGER NOT NULL DEFAULT 0,
	day_use_count INTEGER NOT NULL DEFAULT 0,
	use_day TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(user_id, action_type)
);

CREATE TABLE IF NOT EXISTS audit_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	user_email TEXT,
	action TEXT NOT NULL,
	resource_type TEXT,
	resource_id TEXT,
	details TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	ip_address TEXT,
	user_agent TEXT,
	endpoint TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_records(user_id, created_at);
`

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// bootstraps the schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
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
		toolCalls = string(raw)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, role, content, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, string(msg.Role), msg.Content, toolCalls, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, role, content, tool_calls, created_at
		 FROM chat_messages WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role string
		var toolCalls sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &role, &m.Content, &toolCalls, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Description, string(task.Status), memory,
		task.RelatedEmailID, task.RelatedContactID, task.CreatedAt, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, userID, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	return scanTask(row)
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	memory, err := marshalJSONColumn(task.Memory)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description = ?, status = ?, memory = ?, related_email_id = ?, related_contact_id = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND user_id = ?`,
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

func (s *SQLiteStore) ListActiveTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE user_id = ? AND status NOT IN ('completed', 'failed')
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) ListWaitingTasks(ctx context.Context, before time.Time) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, status, memory, related_email_id, related_contact_id, created_at, updated_at, completed_at
		 FROM tasks WHERE status = 'waiting' AND updated_at < ?
		 ORDER BY updated_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("query waiting tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStore) SaveInstruction(ctx context.Context, inst *models.Instruction) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instructions (id, user_id, instruction, trigger_type, is_active, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET instruction = excluded.instruction,
			trigger_type = excluded.trigger_type, is_active = excluded.is_active`,
		inst.ID, inst.UserID, inst.Instruction, string(inst.TriggerType),
		boolToInt(inst.IsActive), inst.CreatedAt, inst.LastUsedAt)
	if err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveInstructions(ctx context.Context, userID string) ([]*models.Instruction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction, trigger_type, is_active, created_at, last_used_at
		 FROM instructions WHERE user_id = ? AND is_active = 1
		 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func (s *SQLiteStore) MatchingInstructions(ctx context.Context, userID, eventType string) ([]*models.Instruction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instruction, trigger_type, is_active, created_at, last_used_at
		 FROM instructions WHERE user_id = ? AND is_active = 1 AND trigger_type IN (?, 'always')
		 ORDER BY created_at ASC`, userID, eventType)
	if err != nil {
		return nil, fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()
	return scanInstructions(rows)
}

func (s *SQLiteStore) TouchInstruction(ctx context.Context, id string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instructions SET last_used_at = ? WHERE id = ?`, usedAt, id)
	if err != nil {
		return fmt.Errorf("touch instruction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeactivateInstruction(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instructions SET is_active = 0 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deactivate instruction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetConsent(ctx context.Context, userID, actionType string) (*models.Consent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, action_type, scope, is_granted, allowed_hour_start, allowed_hour_end, max_per_day,
			granted_at, revoked_at, expires_at, last_used_at, use_count, day_use_count, use_day, created_at, updated_at
		 FROM consents WHERE user_id = ? AND action_type = ?`, userID, actionType)
	return scanConsent(row)
}

func (s *SQLiteStore) GrantConsent(ctx context.Context, consent *models.Consent) error {
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
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, NULL, ?, 0, 0, '', ?, ?)
		 ON CONFLICT(user_id, action_type) DO UPDATE SET
			scope = excluded.scope,
			is_granted = 1,
			allowed_hour_start = excluded.allowed_hour_start,
			allowed_hour_end = excluded.allowed_hour_end,
			max_per_day = excluded.max_per_day,
			granted_at = excluded.granted_at,
			revoked_at = NULL,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		consent.ID, consent.UserID, consent.ActionType, consent.Scope,
		start, end, maxPerDay, consent.GrantedAt, consent.ExpiresAt, now, now)
	if err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RevokeConsent(ctx context.Context, userID, actionType string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consents SET is_granted = 0, revoked_at = ?, updated_at = ?
		 WHERE user_id = ? AND action_type = ? AND is_granted = 1`,
		at, at, userID, actionType)
	if err != nil {
		return false, fmt.Errorf("revoke consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) UseConsent(ctx context.Context, userID, actionType string, now time.Time) (bool, error) {
	day := models.UseDayKey(now)
	res, err := s.db.ExecContext(ctx,
		`UPDATE consents SET
			use_count = use_count + 1,
			last_used_at = ?,
			day_use_count = CASE WHEN use_day = ? THEN day_use_count + 1 ELSE 1 END,
			use_day = ?,
			updated_at = ?
		 WHERE user_id = ? AND action_type = ?
			AND is_granted = 1 AND revoked_at IS NULL
			AND (expires_at IS NULL OR expires_at > ?)
			AND (max_per_day <= 0 OR (CASE WHEN use_day = ? THEN day_use_count ELSE 0 END) < max_per_day)`,
		now, day, day, now, userID, actionType, now, day)
	if err != nil {
		return false, fmt.Errorf("use consent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListConsents(ctx context.Context, userID string) ([]*models.Consent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action_type, scope, is_granted, allowed_hour_start, allowed_hour_end, max_per_day,
			granted_at, revoked_at, expires_at, last_used_at, use_count, day_use_count, use_day, created_at, updated_at
		 FROM consents WHERE user_id = ? ORDER BY action_type ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query consents: %w", err)
	}
	defer rows.Close()

	var out []*models.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *models.AuditRecord) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.UserEmail, rec.Action, rec.ResourceType, rec.ResourceID,
		details, string(rec.Status), rec.ErrorMessage, rec.IPAddress, rec.UserAgent, rec.Endpoint, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAuditRecords(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, user_email, action, resource_type, resource_id, details, status, error_message, ip_address, user_agent, endpoint, created_at
		 FROM audit_records`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var status string
		var details sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserEmail, &r.Action, &r.ResourceType, &r.ResourceID,
			&details, &status, &r.ErrorMessage, &r.IPAddress, &r.UserAgent, &r.Endpoint, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Status = models.AuditStatus(status)
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &r.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var status string
	var memory sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Description, &status, &memory,
		&t.RelatedEmailID, &t.RelatedContactID, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = models.TaskStatus(status)
	if memory.Valid && memory.String != "" {
		if err := json.Unmarshal([]byte(memory.String), &t.Memory); err != nil {
			return nil, fmt.Errorf("decode task memory: %w", err)
		}
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanInstructions(rows *sql.Rows) ([]*models.Instruction, error) {
	var out []*models.Instruction
	for rows.Next() {
		var inst models.Instruction
		var trigger string
		var active int
		var lastUsed sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.UserID, &inst.Instruction, &trigger, &active, &inst.CreatedAt, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan instruction: %w", err)
		}
		inst.TriggerType = models.TriggerType(trigger)
		inst.IsActive = active != 0
		if lastUsed.Valid {
			inst.LastUsedAt = &lastUsed.Time
		}
		out = append(out, &inst)
	}
	return out, rows.Err()
}

func scanConsent(row scanner) (*models.Consent, error) {
	var c models.Consent
	var granted int
	var start, end sql.NullInt64
	var maxPerDay int
	var revokedAt, expiresAt, lastUsedAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.ActionType, &c.Scope, &granted, &start, &end, &maxPerDay,
		&c.GrantedAt, &revokedAt, &expiresAt, &lastUsedAt, &c.UseCount, &c.DayUseCount, &c.UseDay,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	c.IsGranted = granted != 0
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

func consentConditionColumns(cond *models.ConsentConditions) (start, end any, maxPerDay int) {
	if cond == nil {
		return nil, nil, 0
	}
	if cond.AllowedHours != nil {
		start = cond.AllowedHours.Start
		end = cond.AllowedHours.End
	}
	return start, end, cond.MaxPerDay
}

func marshalJSONColumn(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
