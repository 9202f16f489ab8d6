package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/domain"
)

// Period is an inclusive calendar-date window.
type Period struct {
	Label string
	From  civil.Date
	To    civil.Date
}

// Contains reports whether d falls inside the period.
func (p Period) Contains(d civil.Date) bool {
	return !d.Before(p.From) && !d.After(p.To)
}

// Filter returns a ledger filter covering the period.
func (p Period) Filter() domain.RecordFilter {
	return domain.RecordFilter{From: p.From, To: p.To}
}

// ISOWeek returns the Monday-to-Sunday period of an ISO week.
func ISOWeek(year, week int) (Period, error) {
	if week < 1 || week > 53 {
		return Period{}, fmt.Errorf("%w: iso week %d", ErrInvalidPeriod, week)
	}
	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset+(week-1)*7)
	if y, w := monday.ISOWeek(); y != year || w != week {
		return Period{}, fmt.Errorf("%w: %d has no iso week %d", ErrInvalidPeriod, year, week)
	}
	return Period{
		Label: fmt.Sprintf("%d-W%02d", year, week),
		From:  civil.DateOf(monday),
		To:    civil.DateOf(monday.AddDate(0, 0, 6)),
	}, nil
}

// Month returns the period covering one calendar month.
func Month(year int, month time.Month) (Period, error) {
	if month < time.January || month > time.December {
		return Period{}, fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Label: fmt.Sprintf("%d-%02d", year, int(month)),
		From:  civil.DateOf(first),
		To:    civil.DateOf(first.AddDate(0, 1, -1)),
	}, nil
}

// PreviousWeek returns the last completed ISO week before now.
func PreviousWeek(now time.Time) Period {
	today := civil.DateOf(now)
	weekday := (int(now.Weekday()) + 6) % 7
	monday := today.AddDays(-weekday - 7)
	y, w := monday.In(time.UTC).ISOWeek()
	return Period{Label: fmt.Sprintf("%d-W%02d", y, w), From: monday, To: monday.AddDays(6)}
}

// PreviousMonth returns the calendar month before now.
func PreviousMonth(now time.Time) Period {
	y, m, _ := now.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	p, _ := Month(first.Year(), first.Month())
	return p
}

// ParsePeriod accepts "YYYY-Www", "YYYY-MM", or "YYYY-MM-DD..YYYY-MM-DD".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if from, to, ok := strings.Cut(s, ".."); ok {
		start, err := civil.ParseDate(strings.TrimSpace(from))
		if err != nil {
			return Period{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
		}
		end, err := civil.ParseDate(strings.TrimSpace(to))
		if err != nil {
			return Period{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, err)
		}
		if end.Before(start) {
			return Period{}, fmt.Errorf("%w: %s ends before it starts", ErrInvalidPeriod, s)
		}
		return Period{Label: s, From: start, To: end}, nil
	}
	if year, week, ok := strings.Cut(s, "-W"); ok {
		y, err := strconv.Atoi(year)
		if err != nil {
			return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		w, err := strconv.Atoi(week)
		if err != nil {
			return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		return ISOWeek(y, w)
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Month(t.Year(), t.Month())
}

// Count is one labelled tally.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats aggregates ledger records over a period.
type Stats struct {
	Period        Period  `json:"-"`
	Total         int     `json:"total_changes"`
	ByUser        []Count `json:"users"`
	ByGroup       []Count `json:"groups"`
	ByPhase       []Count `json:"phases"`
	ByMarketplace []Count `json:"marketplaces"`
	ActiveUsers   int     `json:"active_users"`
	ActiveGroups  int     `json:"active_groups"`
}

// Aggregate tallies records whose Date falls inside the period.
func Aggregate(records []domain.ChangeRecord, p Period) Stats {
	users := map[string]int{}
	groups := map[string]int{}
	phases := map[string]int{}
	markets := map[string]int{}
	stats := Stats{Period: p}
	for _, r := range records {
		if !p.Contains(r.Date) {
			continue
		}
		stats.Total++
		if u := strings.TrimSpace(r.User); u != "" {
			users[u]++
		}
		if g := strings.TrimSpace(r.Group); g != "" {
			groups[g]++
		}
		phases["Phase "+strconv.Itoa(r.Phase)]++
		if m := strings.TrimSpace(r.Marketplace); m != "" {
			markets[m]++
		}
	}
	stats.ByUser = sortedCounts(users)
	stats.ByGroup = sortedCounts(groups)
	stats.ByPhase = sortedCounts(phases)
	stats.ByMarketplace = sortedCounts(markets)
	stats.ActiveUsers = len(users)
	stats.ActiveGroups = len(groups)
	return stats
}

// sortedCounts orders tallies by count descending, then key.
func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reporter serves read-only history queries to reporting consumers.
type Reporter struct {
	history HistoryReader
	state   StateStore
}

// NewReporter constructs a reporter over the ledger and state.
func NewReporter(history HistoryReader, state StateStore) *Reporter {
	return &Reporter{history: history, state: state}
}

// History returns ledger records matching filter.
func (r *Reporter) History(ctx context.Context, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	records, err := r.history.Records(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return records, nil
}

// Stats aggregates the ledger over a period.
func (r *Reporter) Stats(ctx context.Context, p Period) (Stats, error) {
	records, err := r.History(ctx, p.Filter())
	if err != nil {
		return Stats{}, err
	}
	return Aggregate(records, p), nil
}

// State returns the persisted state.
func (r *Reporter) State(ctx context.Context) (domain.State, error) {
	return r.state.Load(ctx)
}
