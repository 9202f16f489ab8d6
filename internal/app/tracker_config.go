package app

import (
	"fmt"
	"strings"

	"github.com/hylla/datetrack/internal/domain"
	"github.com/hylla/datetrack/internal/retry"
)

// GroupSource binds an entity group to the sheet backing it.
type GroupSource struct {
	Name    string
	SheetID int64
}

// PhaseField pairs a tracked date column with its companion user column and phase number.
type PhaseField struct {
	DateColumn string
	UserColumn string
	Phase      int
}

// TrackerConfig holds every run parameter the tracker needs.
type TrackerConfig struct {
	Groups            []GroupSource
	PhaseFields       []PhaseField
	MarketplaceColumn string
	DateLayouts       []string
	Retry             retry.Policy
}

// Validate checks that groups and phase fields are usable.
func (c TrackerConfig) Validate() error {
	if len(c.Groups) == 0 {
		return fmt.Errorf("%w: at least one group is required", ErrInvalidConfig)
	}
	seenGroups := map[string]struct{}{}
	for _, g := range c.Groups {
		if err := domain.ValidateGroup(g.Name); err != nil {
			return fmt.Errorf("%w: group %q: %v", ErrInvalidConfig, g.Name, err)
		}
		if g.SheetID <= 0 {
			return fmt.Errorf("%w: group %q: sheet id must be positive", ErrInvalidConfig, g.Name)
		}
		if _, ok := seenGroups[g.Name]; ok {
			return fmt.Errorf("%w: duplicate group %q", ErrInvalidConfig, g.Name)
		}
		seenGroups[g.Name] = struct{}{}
	}
	if len(c.PhaseFields) == 0 {
		return fmt.Errorf("%w: at least one phase field is required", ErrInvalidConfig)
	}
	seenFields := map[string]struct{}{}
	for _, f := range c.PhaseFields {
		if strings.TrimSpace(f.DateColumn) == "" {
			return fmt.Errorf("%w: phase field date column is required", ErrInvalidConfig)
		}
		if f.Phase < 0 {
			return fmt.Errorf("%w: phase for %q must be >= 0", ErrInvalidConfig, f.DateColumn)
		}
		if _, ok := seenFields[f.DateColumn]; ok {
			return fmt.Errorf("%w: duplicate date column %q", ErrInvalidConfig, f.DateColumn)
		}
		seenFields[f.DateColumn] = struct{}{}
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// PhaseFor returns the phase number configured for a date column, or UnmappedPhase.
func (c TrackerConfig) PhaseFor(dateColumn string) int {
	for _, f := range c.PhaseFields {
		if f.DateColumn == dateColumn {
			return f.Phase
		}
	}
	return domain.UnmappedPhase
}

// Group returns the configured group by name.
func (c TrackerConfig) Group(name string) (GroupSource, error) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, nil
		}
	}
	return GroupSource{}, fmt.Errorf("%w: %q", ErrUnknownGroup, name)
}

// GroupNames returns group names in declared order.
func (c TrackerConfig) GroupNames() []string {
	out := make([]string, 0, len(c.Groups))
	for _, g := range c.Groups {
		out = append(out, g.Name)
	}
	return out
}

// clone copies slices so callers cannot mutate a running tracker's config.
func (c TrackerConfig) clone() TrackerConfig {
	out := c
	out.Groups = append([]GroupSource(nil), c.Groups...)
	out.PhaseFields = append([]PhaseField(nil), c.PhaseFields...)
	if c.DateLayouts != nil {
		out.DateLayouts = append([]string(nil), c.DateLayouts...)
	}
	return out
}
