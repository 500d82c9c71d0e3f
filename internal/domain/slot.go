package domain

import (
	"fmt"
	"time"
)

// DayType distinguishes the two daily volume policies.
type DayType string

const (
	DayBusiness DayType = "business"
	DayWeekend  DayType = "weekend"
)

// DayTypeFor maps a wall-clock time to its day type.
func DayTypeFor(t time.Time) DayType {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return DayWeekend
	}
	return DayBusiness
}

// SendSlot is one planned send opportunity: a sending identity and the
// wall-clock instant it should fire. Slots are ephemeral; they are
// regenerated every scheduling cycle and never persisted.
type SendSlot struct {
	Identity    string    `json:"identity"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Window      string    `json:"window"`
}

func (s SendSlot) String() string {
	return fmt.Sprintf("%s @ %s (%s)", s.Identity, s.ScheduledAt.Format("15:04:05"), s.Window)
}
