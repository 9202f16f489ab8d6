package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
)

// DefaultStateFile is the state file name inside the data directory.
const DefaultStateFile = "tracker_state.json"

// stateDocument is the on-disk state shape.
type stateDocument struct {
	LastRun   *string           `json:"last_run"`
	Processed map[string]string `json:"processed"`
}

// StateStore persists tracker state as one JSON document.
type StateStore struct {
	path string
	loc  *time.Location
}

// NewStateStore constructs a JSON state store. Timestamps are read in loc (local when nil).
func NewStateStore(path string, loc *time.Location) (*StateStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}
	if loc == nil {
		loc = time.Local
	}
	return &StateStore{path: path, loc: loc}, nil
}

// Path returns the state file path.
func (s *StateStore) Path() string {
	return s.path
}

// Load reads the state file. Unreadable or malformed files yield an empty state
// plus app.ErrStateMissing or app.ErrStateCorrupt. Keys that do not parse are dropped.
func (s *StateStore) Load(_ context.Context) (domain.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewState(), app.ErrStateMissing
	}
	if err != nil {
		return domain.NewState(), fmt.Errorf("%w: read %s: %v", app.ErrStateCorrupt, s.path, err)
	}
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.NewState(), fmt.Errorf("%w: decode %s: %v", app.ErrStateCorrupt, s.path, err)
	}

	state := domain.NewState()
	if doc.LastRun != nil && strings.TrimSpace(*doc.LastRun) != "" {
		ts, err := time.ParseInLocation(domain.TimestampLayout, strings.TrimSpace(*doc.LastRun), s.loc)
		if err == nil {
			state.LastRun = &ts
		}
	}
	for key, value := range doc.Processed {
		field, err := domain.ParseFieldKey(key)
		if err != nil {
			continue
		}
		state.Set(field, value)
	}
	return state, nil
}

// Save rewrites the whole state file atomically.
func (s *StateStore) Save(_ context.Context, state domain.State) error {
	doc := stateDocument{Processed: make(map[string]string, state.Len())}
	if state.LastRun != nil {
		ts := state.LastRun.In(s.loc).Format(domain.TimestampLayout)
		doc.LastRun = &ts
	}
	for field, value := range state.Processed {
		doc.Processed[field.Key()] = value
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	data = append(data, '\n')
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("save state %s: %w", s.path, err)
	}
	return nil
}
