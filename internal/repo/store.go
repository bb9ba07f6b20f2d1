package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

const currentStateSchemaVersion = 1

// State is the whole JSON document kept by the file store. Histories are keyed
// by ConversationKey and hold turns in append order.
type State struct {
	SchemaVersion int                              `json:"schema_version"`
	Agents        map[string]domain.Agent          `json:"agents"`
	APIKeys       map[string]domain.APIKey         `json:"api_keys"`
	Tools         map[string]domain.Tool           `json:"tools"`
	CustomGPTs    map[string]domain.CustomGPT      `json:"custom_gpts"`
	Bindings      map[string]domain.ChannelBinding `json:"bindings"`
	Histories     map[string][]domain.Turn         `json:"histories"`
}

type Store struct {
	mu        sync.RWMutex
	state     State
	stateFile string
}

func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		stateFile: filepath.Join(dataDir, "state.json"),
		state:     defaultState(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func ConversationKey(agentID, userID string) string {
	return strings.TrimSpace(agentID) + "|" + strings.TrimSpace(userID)
}

func defaultState() State {
	state := State{SchemaVersion: currentStateSchemaVersion}
	ensureMaps(&state)
	return state
}

func ensureMaps(state *State) {
	if state.Agents == nil {
		state.Agents = map[string]domain.Agent{}
	}
	if state.APIKeys == nil {
		state.APIKeys = map[string]domain.APIKey{}
	}
	if state.Tools == nil {
		state.Tools = map[string]domain.Tool{}
	}
	if state.CustomGPTs == nil {
		state.CustomGPTs = map[string]domain.CustomGPT{}
	}
	if state.Bindings == nil {
		state.Bindings = map[string]domain.ChannelBinding{}
	}
	if state.Histories == nil {
		state.Histories = map[string][]domain.Turn{}
	}
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return err
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return err
	}
	if state.SchemaVersion > currentStateSchemaVersion {
		return fmt.Errorf("state file schema_version=%d is newer than supported version %d", state.SchemaVersion, currentStateSchemaVersion)
	}
	migrated := state.SchemaVersion < currentStateSchemaVersion
	state.SchemaVersion = currentStateSchemaVersion
	ensureMaps(&state)
	s.state = state
	if migrated {
		return s.saveLocked()
	}
	return nil
}

func (s *Store) saveLocked() error {
	ensureMaps(&s.state)
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.stateFile + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.stateFile)
}

func (s *Store) Read(fn func(state *State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

// Write applies fn and persists the document. fn must validate before it
// mutates; a failing fn leaves the file untouched.
func (s *Store) Write(fn func(state *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.state); err != nil {
		return err
	}
	return s.saveLocked()
}
