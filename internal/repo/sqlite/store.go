// Package sqlite is the single-node SQL implementation of the store ports.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

var _ ports.Repository = (*Store)(nil)

type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at dsn. A bare path is created under its directory
// and opened in WAL mode; ":memory:" is accepted for tests.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlite database path is required")
	}
	path := dsn
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn += "?_journal=WAL&_timeout=5000&_fk=1"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, path: path}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		key TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'openai',
		is_azure INTEGER NOT NULL DEFAULT 0,
		base_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT 'gpt-4o',
		temperature REAL NOT NULL DEFAULT 1,
		role_instructions TEXT NOT NULL DEFAULT '',
		api_key_id TEXT NOT NULL DEFAULT '',
		tool_ids_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tools (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		base_url TEXT NOT NULL DEFAULT '',
		secret_code TEXT NOT NULL DEFAULT '',
		function_schema TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS custom_gpts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		api_key_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls_json TEXT,
		tool_call_id TEXT NOT NULL DEFAULT '',
		executed_tool_calls_json TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(agent_id, user_id, seq DESC);

	CREATE TABLE IF NOT EXISTS channel_bindings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'twilio',
		path_token TEXT NOT NULL UNIQUE,
		twilio_auth_token TEXT NOT NULL DEFAULT '',
		twilio_account_sid TEXT NOT NULL DEFAULT '',
		twilio_phone_number TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_channel_bindings_user ON channel_bindings(user_id, agent_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Conversation operations

func (s *Store) AppendTurn(ctx context.Context, turn domain.Turn) (domain.Turn, error) {
	if strings.TrimSpace(turn.ID) == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	toolCalls, err := marshalCalls(turn.ToolCalls)
	if err != nil {
		return domain.Turn{}, err
	}
	executed, err := marshalCalls(turn.ExecutedToolCalls)
	if err != nil {
		return domain.Turn{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, agent_id, user_id, role, content, tool_calls_json, tool_call_id, executed_tool_calls_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, turn.ID, turn.AgentID, turn.UserID, turn.Role, turn.Content, toolCalls, turn.ToolCallID, executed, turn.CreatedAt)
	if err != nil {
		return domain.Turn{}, mapError(err)
	}
	return turn, nil
}

func (s *Store) LoadTurns(ctx context.Context, agentID, userID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, role, content, tool_calls_json, tool_call_id, executed_tool_calls_json, created_at
		FROM messages WHERE agent_id = ? AND user_id = ?
		ORDER BY seq DESC LIMIT ?
	`, agentID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			turn              domain.Turn
			toolCalls, execed sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.AgentID, &turn.UserID, &turn.Role, &turn.Content, &toolCalls, &turn.ToolCallID, &execed, &turn.CreatedAt); err != nil {
			return nil, err
		}
		if turn.ToolCalls, err = unmarshalCalls(toolCalls); err != nil {
			return nil, err
		}
		if turn.ExecutedToolCalls, err = unmarshalCalls(execed); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Entity operations

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var (
		agent   domain.Agent
		toolIDs string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, model, temperature, role_instructions, api_key_id, tool_ids_json, created_at
		FROM agents WHERE id = ?
	`, id).Scan(&agent.ID, &agent.UserID, &agent.Name, &agent.Model, &agent.Temperature, &agent.Instructions, &agent.APIKeyID, &toolIDs, &agent.CreatedAt)
	if err != nil {
		return domain.Agent{}, mapError(err)
	}
	if err := json.Unmarshal([]byte(toolIDs), &agent.ToolIDs); err != nil {
		return domain.Agent{}, fmt.Errorf("decode agent tool ids: %w", err)
	}
	return agent, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (domain.APIKey, error) {
	var key domain.APIKey
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, key, provider, is_azure, base_url, created_at
		FROM api_keys WHERE id = ?
	`, id).Scan(&key.ID, &key.UserID, &key.Name, &key.Key, &key.Provider, &key.IsAzure, &key.BaseURL, &key.CreatedAt)
	if err != nil {
		return domain.APIKey{}, mapError(err)
	}
	return key, nil
}

func (s *Store) GetTools(ctx context.Context, ids []string) ([]domain.Tool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, base_url, secret_code, function_schema, created_at
		FROM tools WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]domain.Tool{}
	for rows.Next() {
		var (
			tool   domain.Tool
			schema string
		)
		if err := rows.Scan(&tool.ID, &tool.UserID, &tool.Name, &tool.BaseURL, &tool.SecretCode, &schema, &tool.CreatedAt); err != nil {
			return nil, err
		}
		tool.FunctionSchema = json.RawMessage(schema)
		byID[tool.ID] = tool
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return repo.OrderTools(ids, byID), nil
}

func (s *Store) GetCustomGPT(ctx context.Context, id string) (domain.CustomGPT, error) {
	var gpt domain.CustomGPT
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, agent_id, api_key_id, created_at
		FROM custom_gpts WHERE id = ?
	`, id).Scan(&gpt.ID, &gpt.UserID, &gpt.Name, &gpt.AgentID, &gpt.APIKeyID, &gpt.CreatedAt)
	if err != nil {
		return domain.CustomGPT{}, mapError(err)
	}
	return gpt, nil
}

func (s *Store) PutAgent(ctx context.Context, agent domain.Agent) error {
	toolIDs := agent.ToolIDs
	if toolIDs == nil {
		toolIDs = []string{}
	}
	toolIDsJSON, err := json.Marshal(toolIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, model, temperature, role_instructions, api_key_id, tool_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, model = excluded.model,
			temperature = excluded.temperature, role_instructions = excluded.role_instructions,
			api_key_id = excluded.api_key_id, tool_ids_json = excluded.tool_ids_json
	`, agent.ID, agent.UserID, agent.Name, agent.Model, agent.Temperature, agent.Instructions, agent.APIKeyID, string(toolIDsJSON), createdAt(agent.CreatedAt))
	return mapError(err)
}

func (s *Store) PutAPIKey(ctx context.Context, key domain.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key, provider, is_azure, base_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, key = excluded.key,
			provider = excluded.provider, is_azure = excluded.is_azure, base_url = excluded.base_url
	`, key.ID, key.UserID, key.Name, key.Key, key.Provider, key.IsAzure, key.BaseURL, createdAt(key.CreatedAt))
	return mapError(err)
}

func (s *Store) PutTool(ctx context.Context, tool domain.Tool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, user_id, name, base_url, secret_code, function_schema, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, base_url = excluded.base_url,
			secret_code = excluded.secret_code, function_schema = excluded.function_schema
	`, tool.ID, tool.UserID, tool.Name, tool.BaseURL, tool.SecretCode, string(tool.FunctionSchema), createdAt(tool.CreatedAt))
	return mapError(err)
}

func (s *Store) PutCustomGPT(ctx context.Context, gpt domain.CustomGPT) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_gpts (id, user_id, name, agent_id, api_key_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, name = excluded.name, agent_id = excluded.agent_id,
			api_key_id = excluded.api_key_id
	`, gpt.ID, gpt.UserID, gpt.Name, gpt.AgentID, gpt.APIKeyID, createdAt(gpt.CreatedAt))
	return mapError(err)
}

// Channel binding operations

const bindingColumns = `id, user_id, agent_id, provider, path_token, twilio_auth_token, twilio_account_sid, twilio_phone_number, enabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBinding(row rowScanner) (domain.ChannelBinding, error) {
	var b domain.ChannelBinding
	err := row.Scan(&b.ID, &b.UserID, &b.AgentID, &b.Provider, &b.PathToken, &b.TwilioAuthToken, &b.TwilioAccountSID, &b.TwilioPhoneNumber, &b.Enabled, &b.CreatedAt)
	return b, err
}

func (s *Store) GetBinding(ctx context.Context, id string) (domain.ChannelBinding, error) {
	b, err := scanBinding(s.db.QueryRowContext(ctx, `SELECT `+bindingColumns+` FROM channel_bindings WHERE id = ?`, id))
	if err != nil {
		return domain.ChannelBinding{}, mapError(err)
	}
	return b, nil
}

func (s *Store) GetBindingByToken(ctx context.Context, pathToken string) (domain.ChannelBinding, error) {
	b, err := scanBinding(s.db.QueryRowContext(ctx, `SELECT `+bindingColumns+` FROM channel_bindings WHERE path_token = ?`, pathToken))
	if err != nil {
		return domain.ChannelBinding{}, mapError(err)
	}
	return b, nil
}

func (s *Store) CreateBinding(ctx context.Context, b domain.ChannelBinding) (domain.ChannelBinding, error) {
	if strings.TrimSpace(b.ID) == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = createdAt(b.CreatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_bindings (`+bindingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.UserID, b.AgentID, b.Provider, b.PathToken, b.TwilioAuthToken, b.TwilioAccountSID, b.TwilioPhoneNumber, b.Enabled, b.CreatedAt)
	if err != nil {
		return domain.ChannelBinding{}, mapError(err)
	}
	return b, nil
}

func (s *Store) ListBindings(ctx context.Context, userID, agentID string) ([]domain.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE user_id = ?`
	args := []any{userID}
	if strings.TrimSpace(agentID) != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ChannelBinding{}
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBinding(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channel_bindings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", repo.ErrConflict, sqliteErr.Error())
	}
	return err
}

func marshalCalls(calls []domain.ToolCallRequest) (sql.NullString, error) {
	if len(calls) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode tool calls: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalCalls(raw sql.NullString) ([]domain.ToolCallRequest, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var calls []domain.ToolCallRequest
	if err := json.Unmarshal([]byte(raw.String), &calls); err != nil {
		return nil, fmt.Errorf("decode tool calls: %w", err)
	}
	return calls, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
