// Package seed imports api keys, tools, agents, custom GPTs and WhatsApp
// bindings from a YAML document. Records are owned by external CRUD services
// in production; the importer exists for local setups and tests.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/khuzaima-ocs/Synapse/internal/catalog"
	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/runner"
	"github.com/khuzaima-ocs/Synapse/internal/service/integration"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

type Document struct {
	APIKeys              []domain.APIKey         `yaml:"api_keys"`
	Tools                []Tool                  `yaml:"tools"`
	Agents               []Agent                 `yaml:"agents"`
	CustomGPTs           []domain.CustomGPT      `yaml:"custom_gpts"`
	WhatsAppIntegrations []domain.ChannelBinding `yaml:"whatsapp_integrations"`
}

// Tool accepts function_schema either as a JSON string or as inline YAML.
type Tool struct {
	ID             string    `yaml:"id"`
	UserID         string    `yaml:"user_id"`
	Name           string    `yaml:"name"`
	BaseURL        string    `yaml:"base_url"`
	SecretCode     string    `yaml:"secret_code"`
	FunctionSchema yaml.Node `yaml:"function_schema"`
}

// Agent carries a pointer temperature so an explicit zero survives defaults.
type Agent struct {
	ID           string   `yaml:"id"`
	UserID       string   `yaml:"user_id"`
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	Temperature  *float64 `yaml:"temperature"`
	Instructions string   `yaml:"role_instructions"`
	APIKeyID     string   `yaml:"api_key_id"`
	ToolIDs      []string `yaml:"tool_ids"`
}

type Summary struct {
	APIKeys      int
	Tools        int
	Agents       int
	CustomGPTs   int
	Integrations int
	Skipped      int
}

type Store interface {
	ports.EntityWriter
	ports.BindingStore
}

func Parse(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("parse seed document: %w", err)
	}
	return doc, nil
}

func ImportFile(ctx context.Context, path string, store Store) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return Summary{}, err
	}
	return Apply(ctx, doc, store)
}

// Apply writes every record. Entities are upserted; a binding whose id or
// path token already exists is skipped so a seed file can be re-applied.
func Apply(ctx context.Context, doc Document, store Store) (Summary, error) {
	var summary Summary
	now := time.Now().UTC()

	for _, key := range doc.APIKeys {
		if strings.TrimSpace(key.ID) == "" {
			return summary, errors.New("api_keys: id is required")
		}
		if key.Provider == "" {
			key.Provider = domain.ProviderOpenAI
		}
		if err := runner.CheckProvider(key.Provider, key.IsAzure); err != nil {
			return summary, fmt.Errorf("api key %s: %w", key.ID, err)
		}
		key.CreatedAt = now
		if err := store.PutAPIKey(ctx, key); err != nil {
			return summary, fmt.Errorf("api key %s: %w", key.ID, err)
		}
		summary.APIKeys++
	}

	for _, item := range doc.Tools {
		tool, err := item.toDomain()
		if err != nil {
			return summary, err
		}
		tool.CreatedAt = now
		if err := store.PutTool(ctx, tool); err != nil {
			return summary, fmt.Errorf("tool %s: %w", tool.ID, err)
		}
		summary.Tools++
	}

	for _, item := range doc.Agents {
		agent := domain.Agent{
			ID:           item.ID,
			UserID:       item.UserID,
			Name:         item.Name,
			Model:        item.Model,
			Instructions: item.Instructions,
			APIKeyID:     item.APIKeyID,
			ToolIDs:      item.ToolIDs,
		}
		if strings.TrimSpace(agent.ID) == "" {
			return summary, errors.New("agents: id is required")
		}
		if agent.Model == "" {
			agent.Model = domain.DefaultAgentModel
		}
		agent.Temperature = domain.DefaultAgentTemperature
		if item.Temperature != nil {
			agent.Temperature = *item.Temperature
		}
		if err := runner.CheckTemperature(agent.Temperature); err != nil {
			return summary, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
		agent.CreatedAt = now
		if err := store.PutAgent(ctx, agent); err != nil {
			return summary, fmt.Errorf("agent %s: %w", agent.ID, err)
		}
		summary.Agents++
	}

	for _, gpt := range doc.CustomGPTs {
		if strings.TrimSpace(gpt.ID) == "" || strings.TrimSpace(gpt.AgentID) == "" {
			return summary, errors.New("custom_gpts: id and agent_id are required")
		}
		gpt.CreatedAt = now
		if err := store.PutCustomGPT(ctx, gpt); err != nil {
			return summary, fmt.Errorf("custom gpt %s: %w", gpt.ID, err)
		}
		summary.CustomGPTs++
	}

	for _, binding := range doc.WhatsAppIntegrations {
		if strings.TrimSpace(binding.UserID) == "" || strings.TrimSpace(binding.AgentID) == "" {
			return summary, errors.New("whatsapp_integrations: user_id and agent_id are required")
		}
		if binding.ID == "" {
			binding.ID = uuid.NewString()
		}
		if binding.PathToken == "" {
			binding.PathToken = integration.NewPathToken()
		}
		if binding.Provider == "" {
			binding.Provider = domain.ChannelProviderTwilio
		}
		binding.CreatedAt = now
		if _, err := store.CreateBinding(ctx, binding); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				log.Printf("[seed] binding exists id=%s, skipped", binding.ID)
				summary.Skipped++
				continue
			}
			return summary, fmt.Errorf("whatsapp integration %s: %w", binding.ID, err)
		}
		summary.Integrations++
	}

	log.Printf(
		"[seed] imported api_keys=%d tools=%d agents=%d custom_gpts=%d integrations=%d skipped=%d",
		summary.APIKeys, summary.Tools, summary.Agents, summary.CustomGPTs, summary.Integrations, summary.Skipped,
	)
	return summary, nil
}

func (t Tool) toDomain() (domain.Tool, error) {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Tool{}, errors.New("tools: id is required")
	}
	schema, err := schemaJSON(t.FunctionSchema)
	if err != nil {
		return domain.Tool{}, fmt.Errorf("tool %s: %w", t.ID, err)
	}
	if len(schema) > 0 {
		if shape := catalog.Classify(schema); shape.Shape == catalog.ShapeMalformed {
			log.Printf("[seed] tool %s function_schema exposes no functions", t.ID)
		}
	}
	return domain.Tool{
		ID:             t.ID,
		UserID:         t.UserID,
		Name:           t.Name,
		BaseURL:        t.BaseURL,
		SecretCode:     t.SecretCode,
		FunctionSchema: schema,
	}, nil
}

// schemaJSON converts the YAML node to JSON. A scalar string is taken as a
// JSON document verbatim.
func schemaJSON(node yaml.Node) (json.RawMessage, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		raw := strings.TrimSpace(node.Value)
		if !json.Valid([]byte(raw)) {
			return nil, errors.New("function_schema string is not valid JSON")
		}
		return json.RawMessage(raw), nil
	}
	var value interface{}
	if err := node.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode function_schema: %w", err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode function_schema: %w", err)
	}
	return raw, nil
}
