package domain

import "fmt"

// SequenceStage is one step in the outreach sequence. DelayDays is the
// minimum number of days that must have elapsed since the previous
// stage's recorded send before this stage becomes claimable.
type SequenceStage struct {
	Stage     int `json:"stage" yaml:"stage"`
	DelayDays int `json:"delay_days" yaml:"delay_days"`
}

// Sequence is an ordered outreach sequence. Stage numbers start at 1
// and must be contiguous; stage 1 has no prior dependency.
type Sequence []SequenceStage

// Validate checks stage numbering and delays.
func (s Sequence) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("sequence: at least one stage required")
	}
	for i, st := range s {
		if st.Stage != i+1 {
			return fmt.Errorf("sequence: stage %d at position %d (stages must be contiguous from 1)", st.Stage, i)
		}
		if st.DelayDays < 0 {
			return fmt.Errorf("sequence: stage %d has negative delay", st.Stage)
		}
		if st.Stage > 1 && st.DelayDays == 0 {
			return fmt.Errorf("sequence: stage %d needs a non-zero delay", st.Stage)
		}
	}
	return nil
}

// Last returns the highest stage number.
func (s Sequence) Last() int { return len(s) }

// DelayDays returns the configured delay for a stage, or 0 for stage 1
// and unknown stages.
func (s Sequence) DelayDays(stage int) int {
	if stage < 1 || stage > len(s) {
		return 0
	}
	return s[stage-1].DelayDays
}

// FollowUpStages returns the follow-up stage numbers in descending
// order (deepest first). Follow-ups take priority over first contact:
// a claim attempt walks this list before falling back to stage 1.
func (s Sequence) FollowUpStages() []int {
	if len(s) < 2 {
		return nil
	}
	out := make([]int, 0, len(s)-1)
	for st := len(s); st >= 2; st-- {
		out = append(out, st)
	}
	return out
}
