// Package postgres is the pgx-backed implementation of the store ports.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

var _ ports.Repository = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	key TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT 'openai',
	is_azure BOOLEAN NOT NULL DEFAULT FALSE,
	base_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT 'gpt-4o',
	temperature DOUBLE PRECISION NOT NULL DEFAULT 1,
	role_instructions TEXT NOT NULL DEFAULT '',
	api_key_id TEXT NOT NULL DEFAULT '',
	tool_ids TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tools (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	base_url TEXT NOT NULL DEFAULT '',
	secret_code TEXT NOT NULL DEFAULT '',
	function_schema TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS custom_gpts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL,
	api_key_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	agent_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_calls JSONB,
	tool_call_id TEXT NOT NULL DEFAULT '',
	executed_tool_calls JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_channel_bindings_user ON channel_bindings(user_id, agent_id);
`

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(ctx context.Context, connStr string) (*Store, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s != nil && s.DB != nil {
		s.DB.Close()
	}
	return nil
}

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
	_, err = s.DB.Exec(ctx, `
		INSERT INTO messages (id, agent_id, user_id, role, content, tool_calls, tool_call_id, executed_tool_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9)
	`, turn.ID, turn.AgentID, turn.UserID, turn.Role, turn.Content, toolCalls, turn.ToolCallID, executed, turn.CreatedAt)
	if err != nil {
		return domain.Turn{}, mapError(err)
	}
	return turn, nil
}

func (s *Store) LoadTurns(ctx context.Context, agentID, userID string, limit int) ([]domain.Turn, error) {
	query := `
		SELECT id, agent_id, user_id, role, content, tool_calls::text, tool_call_id, executed_tool_calls::text, created_at
		FROM messages WHERE agent_id = $1 AND user_id = $2
		ORDER BY seq DESC`
	args := []any{agentID, userID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			turn              domain.Turn
			toolCalls, execed *string
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
	reverse(turns)
	return turns, nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	var agent domain.Agent
	err := s.DB.QueryRow(ctx, `
		SELECT id, user_id, name, model, temperature, role_instructions, api_key_id, tool_ids, created_at
		FROM agents WHERE id = $1
	`, id).Scan(&agent.ID, &agent.UserID, &agent.Name, &agent.Model, &agent.Temperature, &agent.Instructions, &agent.APIKeyID, &agent.ToolIDs, &agent.CreatedAt)
	if err != nil {
		return domain.Agent{}, mapError(err)
	}
	return agent, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (domain.APIKey, error) {
	var key domain.APIKey
	err := s.DB.QueryRow(ctx, `
		SELECT id, user_id, name, key, provider, is_azure, base_url, created_at
		FROM api_keys WHERE id = $1
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
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, name, base_url, secret_code, function_schema, created_at
		FROM tools WHERE id = ANY($1)
	`, ids)
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
	err := s.DB.QueryRow(ctx, `
		SELECT id, user_id, name, agent_id, api_key_id, created_at
		FROM custom_gpts WHERE id = $1
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
	_, err := s.DB.Exec(ctx, `
		INSERT INTO agents (id, user_id, name, model, temperature, role_instructions, api_key_id, tool_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, model = EXCLUDED.model,
			temperature = EXCLUDED.temperature, role_instructions = EXCLUDED.role_instructions,
			api_key_id = EXCLUDED.api_key_id, tool_ids = EXCLUDED.tool_ids
	`, agent.ID, agent.UserID, agent.Name, agent.Model, agent.Temperature, agent.Instructions, agent.APIKeyID, toolIDs, createdAt(agent.CreatedAt))
	return mapError(err)
}

func (s *Store) PutAPIKey(ctx context.Context, key domain.APIKey) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key, provider, is_azure, base_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, key = EXCLUDED.key,
			provider = EXCLUDED.provider, is_azure = EXCLUDED.is_azure, base_url = EXCLUDED.base_url
	`, key.ID, key.UserID, key.Name, key.Key, key.Provider, key.IsAzure, key.BaseURL, createdAt(key.CreatedAt))
	return mapError(err)
}

func (s *Store) PutTool(ctx context.Context, tool domain.Tool) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tools (id, user_id, name, base_url, secret_code, function_schema, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, base_url = EXCLUDED.base_url,
			secret_code = EXCLUDED.secret_code, function_schema = EXCLUDED.function_schema
	`, tool.ID, tool.UserID, tool.Name, tool.BaseURL, tool.SecretCode, string(tool.FunctionSchema), createdAt(tool.CreatedAt))
	return mapError(err)
}

func (s *Store) PutCustomGPT(ctx context.Context, gpt domain.CustomGPT) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO custom_gpts (id, user_id, name, agent_id, api_key_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, name = EXCLUDED.name, agent_id = EXCLUDED.agent_id,
			api_key_id = EXCLUDED.api_key_id
	`, gpt.ID, gpt.UserID, gpt.Name, gpt.AgentID, gpt.APIKeyID, createdAt(gpt.CreatedAt))
	return mapError(err)
}

const bindingColumns = `id, user_id, agent_id, provider, path_token, twilio_auth_token, twilio_account_sid, twilio_phone_number, enabled, created_at`

func scanBinding(row pgx.Row) (domain.ChannelBinding, error) {
	var b domain.ChannelBinding
	err := row.Scan(&b.ID, &b.UserID, &b.AgentID, &b.Provider, &b.PathToken, &b.TwilioAuthToken, &b.TwilioAccountSID, &b.TwilioPhoneNumber, &b.Enabled, &b.CreatedAt)
	return b, err
}

func (s *Store) GetBinding(ctx context.Context, id string) (domain.ChannelBinding, error) {
	b, err := scanBinding(s.DB.QueryRow(ctx, `SELECT `+bindingColumns+` FROM channel_bindings WHERE id = $1`, id))
	if err != nil {
		return domain.ChannelBinding{}, mapError(err)
	}
	return b, nil
}

func (s *Store) GetBindingByToken(ctx context.Context, pathToken string) (domain.ChannelBinding, error) {
	b, err := scanBinding(s.DB.QueryRow(ctx, `SELECT `+bindingColumns+` FROM channel_bindings WHERE path_token = $1`, pathToken))
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
	_, err := s.DB.Exec(ctx, `
		INSERT INTO channel_bindings (`+bindingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.UserID, b.AgentID, b.Provider, b.PathToken, b.TwilioAuthToken, b.TwilioAccountSID, b.TwilioPhoneNumber, b.Enabled, b.CreatedAt)
	if err != nil {
		return domain.ChannelBinding{}, mapError(err)
	}
	return b, nil
}

func (s *Store) ListBindings(ctx context.Context, userID, agentID string) ([]domain.ChannelBinding, error) {
	query := `SELECT ` + bindingColumns + ` FROM channel_bindings WHERE user_id = $1`
	args := []any{userID}
	if strings.TrimSpace(agentID) != "" {
		query += ` AND agent_id = $2`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := s.DB.Query(ctx, query, args...)
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
	tag, err := s.DB.Exec(ctx, `DELETE FROM channel_bindings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repo.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repo.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func marshalCalls(calls []domain.ToolCallRequest) (*string, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("encode tool calls: %w", err)
	}
	text := string(b)
	return &text, nil
}

func unmarshalCalls(raw *string) ([]domain.ToolCallRequest, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" || *raw == "null" {
		return nil, nil
	}
	var calls []domain.ToolCallRequest
	if err := json.Unmarshal([]byte(*raw), &calls); err != nil {
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

func reverse(turns []domain.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
