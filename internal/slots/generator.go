// Package slots turns the window policy for a day into a concrete,
// jittered list of send slots. Slots are recomputed every scheduling
// cycle and never persisted, so a restart simply regenerates the rest
// of the day.
package slots

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/ignite/outreach-dispatcher/internal/config"
	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// Jitter constants. Minutes land in [5,55] so slots never cluster at
// hour boundaries; the per-slot offset of 60..300 seconds keeps two
// identities in the same window from firing in lockstep.
const (
	minuteFloor     = 5
	minuteSpread    = 51
	currentHourLead = 2
	currentHourJit  = 9
	offsetFloorSec  = 60
	offsetSpreadSec = 241
)

// Params describes one day's slot generation.
type Params struct {
	// Day anchors the calendar date and rotation; Now is the instant
	// generation runs. Slots earlier than Now are dropped.
	Day time.Time
	Now time.Time

	DayType    domain.DayType
	Identities []string
	Windows    []config.Window

	// HighVolume disables the daily pause rotation.
	HighVolume bool

	// Rand is the jitter source. Tests pass a seeded source.
	Rand *rand.Rand
}

// Generate produces the day's send slots, sorted by scheduled time.
// An empty roster or empty window policy yields an empty schedule.
func Generate(p Params) []domain.SendSlot {
	if len(p.Identities) == 0 || len(p.Windows) == 0 {
		return nil
	}
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(p.Now.UnixNano()))
	}

	active := ActiveIdentities(p.Identities, p.Day, p.DayType, p.HighVolume)

	var out []domain.SendSlot
	for _, w := range p.Windows {
		label := fmt.Sprintf("%02d-%02d", w.StartHour, w.EndHour)
		for _, identity := range active {
			for i := 0; i < w.PerIdentity; i++ {
				at, ok := slotTime(p.Day, p.Now, w, rng)
				if !ok {
					continue
				}
				out = append(out, domain.SendSlot{
					Identity:    identity,
					ScheduledAt: at,
					Window:      label,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

// slotTime picks one jittered instant inside the window, or false when
// the pick lands in the past and cannot be salvaged.
func slotTime(day, now time.Time, w config.Window, rng *rand.Rand) (time.Time, bool) {
	hour := w.StartHour + rng.Intn(w.EndHour-w.StartHour+1)

	var minute int
	switch {
	case sameDate(day, now) && hour < now.Hour():
		// The window hour has already passed today.
		return time.Time{}, false
	case sameDate(day, now) && hour == now.Hour():
		// Mid-hour start: bias the slot a few minutes ahead of now so
		// it still fires instead of being dropped.
		minute = now.Minute() + currentHourLead + rng.Intn(currentHourJit)
		if minute > 59 {
			minute = 59
		}
	default:
		minute = minuteFloor + rng.Intn(minuteSpread)
	}

	at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
	at = at.Add(time.Duration(offsetFloorSec+rng.Intn(offsetSpreadSec)) * time.Second)
	if at.Before(now) {
		return time.Time{}, false
	}
	return at, true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ActiveIdentities applies the daily pause rotation: on business days
// two adjacent identities, chosen deterministically from the day of
// year, sit out. The rotation gives every sender regular rest days
// without any persisted state. It is skipped for weekend schedules,
// high-volume rosters, and rosters too small to lose two senders.
func ActiveIdentities(identities []string, day time.Time, dayType domain.DayType, highVolume bool) []string {
	n := len(identities)
	if highVolume || dayType != domain.DayBusiness || n <= 2 {
		out := make([]string, n)
		copy(out, identities)
		return out
	}

	first := (day.YearDay() * 2) % n
	second := (first + 1) % n

	out := make([]string, 0, n-2)
	for i, id := range identities {
		if i == first || i == second {
			continue
		}
		out = append(out, id)
	}
	return out
}
