package app

import (
	"errors"
	"time"

	"github.com/hylla/datetrack/internal/datenorm"
)

// IDGenerator returns unique identifiers for runs.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Deps holds the collaborators a Tracker drives.
type Deps struct {
	Source   SheetSource
	State    StateStore
	Ledger   Ledger
	Logger   Logger
	Observer RunObserver
	Clock    Clock
	IDGen    IDGenerator
}

// Tracker detects phase-date changes between the remote sheets and the persisted state.
type Tracker struct {
	cfg      TrackerConfig
	norm     datenorm.Normalizer
	source   SheetSource
	state    StateStore
	ledger   Ledger
	log      Logger
	observer RunObserver
	clock    Clock
	idGen    IDGenerator
}

// NewTracker validates cfg and wires the tracker.
func NewTracker(cfg TrackerConfig, deps Deps) (*Tracker, error) {
	if deps.Source == nil || deps.State == nil || deps.Ledger == nil {
		return nil, errors.New("tracker dependencies are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	norm, err := datenorm.New(cfg.DateLayouts)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.IDGen == nil {
		deps.IDGen = func() string { return "" }
	}
	return &Tracker{
		cfg:      cfg.clone(),
		norm:     norm,
		source:   deps.Source,
		state:    deps.State,
		ledger:   deps.Ledger,
		log:      deps.Logger,
		observer: deps.Observer,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
	}, nil
}
