package audit

import (
	"context"
	"time"

	"github.com/frahmantamala/familyguard/internal/core/common/validation"
)

type Report struct {
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	GeneratedAt    time.Time      `json:"generated_at"`
	TotalEvents    int            `json:"total_events"`
	ByLevel        map[Level]int  `json:"by_level"`
	ByUser         map[string]int `json:"by_user"`
	ByOperation    map[string]int `json:"by_operation"`
	ByType         map[string]int `json:"by_type"`
	Successes      int            `json:"successes"`
	Failures       int            `json:"failures"`
	SuccessRate    float64        `json:"success_rate"`
	CriticalEvents []*Event       `json:"critical_events"`
	SecurityEvents []*Event       `json:"security_events"`
}

// Report aggregates the stored events whose timestamp falls in
// [start, end], both ends inclusive.
func (p *Pipeline) Report(ctx context.Context, start, end time.Time) (*Report, error) {
	if err := validation.ValidateTimeRange(start, end); err != nil {
		return nil, err
	}

	r := &Report{
		Start:          start,
		End:            end,
		GeneratedAt:    p.now(),
		ByLevel:        make(map[Level]int, len(AllLevels)),
		ByUser:         make(map[string]int),
		ByOperation:    make(map[string]int),
		ByType:         make(map[string]int),
		CriticalEvents: []*Event{},
		SecurityEvents: []*Event{},
	}
	for _, l := range AllLevels {
		r.ByLevel[l] = 0
	}

	p.mu.RLock()
	for i := 0; i < p.events.Len(); i++ {
		ev := p.events.At(i)
		if ev.Timestamp.Before(start) || ev.Timestamp.After(end) {
			continue
		}
		r.TotalEvents++
		r.ByLevel[ev.Level]++
		r.ByType[ev.Type]++
		if ev.User != "" {
			r.ByUser[ev.User]++
		}
		if ev.Operation != "" {
			r.ByOperation[ev.Operation]++
		}
		if ev.Success {
			r.Successes++
		} else {
			r.Failures++
		}
		switch ev.Level {
		case LevelCritical:
			r.CriticalEvents = append(r.CriticalEvents, ev.clone())
		case LevelSecurity:
			r.SecurityEvents = append(r.SecurityEvents, ev.clone())
		}
	}
	p.mu.RUnlock()

	if r.TotalEvents > 0 {
		r.SuccessRate = float64(r.Successes) / float64(r.TotalEvents)
	}
	return r, nil
}
