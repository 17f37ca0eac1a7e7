// Package state persists the last played source between runs. It is read
// by the CLI and injected into the engine at start time.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Current describes the last source the user picked.
type Current struct {
	Path  string    `json:"path"`
	SetAt time.Time `json:"set_at"`
}

// State is the persisted player state.
type State struct {
	Current Current  `json:"current"`
	History []string `json:"history"`
	Muted   bool     `json:"muted"`

	path string
}

const maxHistory = 20

// New returns empty state bound to path.
func New(path string) *State {
	return &State{path: expandPath(path), History: []string{}}
}

// Load reads state from path. A missing or empty file yields empty state.
func Load(path string) (*State, error) {
	s := New(path)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if s.History == nil {
		s.History = []string{}
	}
	return s, nil
}

// Save writes the state atomically.
func (s *State) Save() error {
	if s.path == "" {
		return fmt.Errorf("state path not set")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// SetSource records path as the current source, pushing the previous one
// onto the history.
func (s *State) SetSource(path string) {
	if s.Current.Path == path {
		return
	}
	if s.Current.Path != "" {
		s.addToHistory(s.Current.Path)
	}
	s.Current = Current{Path: path, SetAt: time.Now()}
}

// Source returns the last recorded source path, or "".
func (s *State) Source() string {
	return s.Current.Path
}

// Clear forgets the current source.
func (s *State) Clear() {
	s.Current = Current{}
}

// Path returns the file the state is stored in.
func (s *State) Path() string {
	return s.path
}

func (s *State) addToHistory(path string) {
	for i, h := range s.History {
		if h == path {
			s.History = append(s.History[:i], s.History[i+1:]...)
			break
		}
	}
	s.History = append(s.History, path)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
