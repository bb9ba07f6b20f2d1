// Package integration manages WhatsApp channel bindings and resolves the
// binding behind an inbound webhook path token.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

var (
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrAgentNotFound    = errors.New("agent_not_found")
	ErrBindingNotFound  = errors.New("integration_not_found")
	ErrBindingForbidden = errors.New("integration_forbidden")
	ErrBindingDisabled  = errors.New("integration_disabled")
)

type Dependencies struct {
	Agents   ports.EntityReader
	Bindings ports.BindingStore
}

type Service struct {
	deps Dependencies
}

func NewService(deps Dependencies) *Service {
	return &Service{deps: deps}
}

func (s *Service) Create(ctx context.Context, req domain.WhatsAppIntegrationRequest) (domain.ChannelBinding, error) {
	userID := strings.TrimSpace(req.UserID)
	agentID := strings.TrimSpace(req.AgentID)
	if userID == "" {
		return domain.ChannelBinding{}, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	if agentID == "" {
		return domain.ChannelBinding{}, fmt.Errorf("%w: agent_id is required", ErrInvalidRequest)
	}
	if _, err := s.deps.Agents.GetAgent(ctx, agentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChannelBinding{}, ErrAgentNotFound
		}
		return domain.ChannelBinding{}, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	binding := domain.ChannelBinding{
		ID:                uuid.NewString(),
		UserID:            userID,
		AgentID:           agentID,
		Provider:          domain.ChannelProviderTwilio,
		PathToken:         NewPathToken(),
		TwilioAuthToken:   strings.TrimSpace(req.TwilioAuthToken),
		TwilioAccountSID:  strings.TrimSpace(req.TwilioAccountSID),
		TwilioPhoneNumber: strings.TrimSpace(req.TwilioPhoneNumber),
		Enabled:           enabled,
		CreatedAt:         time.Now().UTC(),
	}
	created, err := s.deps.Bindings.CreateBinding(ctx, binding)
	if err != nil {
		return domain.ChannelBinding{}, err
	}
	log.Printf("[integration] created id=%s agent=%s user=%s enabled=%t", created.ID, created.AgentID, created.UserID, created.Enabled)
	return created, nil
}

func (s *Service) List(ctx context.Context, userID, agentID string) ([]domain.ChannelBinding, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	return s.deps.Bindings.ListBindings(ctx, userID, strings.TrimSpace(agentID))
}

// Delete removes a binding owned by userID.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	binding, err := s.deps.Bindings.GetBinding(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrBindingNotFound
		}
		return err
	}
	if binding.UserID != userID {
		return ErrBindingForbidden
	}
	if err := s.deps.Bindings.DeleteBinding(ctx, binding.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrBindingNotFound
		}
		return err
	}
	log.Printf("[integration] deleted id=%s user=%s", binding.ID, userID)
	return nil
}

// Resolve returns the enabled binding behind a webhook path token.
func (s *Service) Resolve(ctx context.Context, pathToken string) (domain.ChannelBinding, error) {
	pathToken = strings.TrimSpace(pathToken)
	if pathToken == "" {
		return domain.ChannelBinding{}, ErrBindingNotFound
	}
	binding, err := s.deps.Bindings.GetBindingByToken(ctx, pathToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChannelBinding{}, ErrBindingNotFound
		}
		return domain.ChannelBinding{}, err
	}
	if !binding.Enabled {
		return binding, ErrBindingDisabled
	}
	return binding, nil
}

// NewPathToken returns an unguessable 32 character hex token.
func NewPathToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Redacted hides the Twilio auth token before a binding leaves the gateway.
func Redacted(binding domain.ChannelBinding) domain.ChannelBinding {
	token := binding.TwilioAuthToken
	switch {
	case token == "":
	case len(token) <= 6:
		binding.TwilioAuthToken = "***"
	default:
		binding.TwilioAuthToken = token[:3] + "***" + token[len(token)-3:]
	}
	return binding
}
