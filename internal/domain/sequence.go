package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Outreach channels a sequence step can use.
const (
	ChannelEmail    = "Email"
	ChannelLinkedIn = "LinkedIn"
	ChannelPhone    = "Phone"
	ChannelSMS      = "Text"
)

// DefaultStepSpacing is the day gap assigned between steps when the
// server did not provide explicit day offsets.
const DefaultStepSpacing = 3

// SequenceStep is one outreach touchpoint in a sequence document.
// StepNumber values are dense and 1-based in list order; IDs are stable
// across edits and never reused within a document.
type SequenceStep struct {
	ID         string `json:"id"`
	StepNumber int    `json:"step"`
	Day        int    `json:"day"`
	Channel    string `json:"channel"`
	Subject    string `json:"subject,omitempty"`
	Message    string `json:"message"`
	Timing     string `json:"timing,omitempty"`

	// dayExplicit distinguishes an explicit day 0 from an absent day,
	// so Normalize only fills days that were actually missing.
	dayExplicit bool
}

// SetDay records an explicit day offset; Normalize never rewrites it,
// even for a same-day follow-up at day 0.
func (s *SequenceStep) SetDay(day int) {
	s.Day = day
	s.dayExplicit = true
}

// UnmarshalJSON tracks whether the payload carried a day offset.
func (s *SequenceStep) UnmarshalJSON(data []byte) error {
	type plain SequenceStep
	aux := struct {
		*plain
		Day *int `json:"day"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Day != nil {
		s.SetDay(*aux.Day)
	}
	return nil
}

// SequenceDocument is the editable outreach plan bound to a session.
// A nil *SequenceDocument means no sequence exists yet, which is a
// distinct state from a document with zero steps.
type SequenceDocument struct {
	ID         string         `json:"id,omitempty"`
	Title      string         `json:"title"`
	TargetRole string         `json:"target_role,omitempty"`
	Industry   string         `json:"industry,omitempty"`
	Company    string         `json:"company,omitempty"`
	Steps      []SequenceStep `json:"steps"`
}

// NewStepID returns a fresh step identifier.
func NewStepID() string {
	return "step_" + uuid.NewString()[:8]
}

// NewSequenceID returns a fresh document identifier.
func NewSequenceID() string {
	return "seq_" + uuid.NewString()[:8]
}

// Validate checks the structural rules every inbound document must meet:
// a steps list is present and every step carries a non-empty message and
// channel. Documents failing this are rejected wholesale.
func (d *SequenceDocument) Validate() error {
	if d == nil {
		return fmt.Errorf("sequence document is nil")
	}
	if d.Steps == nil {
		return fmt.Errorf("sequence document has no steps list")
	}
	for i, s := range d.Steps {
		if strings.TrimSpace(s.Message) == "" {
			return fmt.Errorf("step %d has an empty message", i+1)
		}
		if strings.TrimSpace(s.Channel) == "" {
			return fmt.Errorf("step %d has an empty channel", i+1)
		}
	}
	return nil
}

// ValidateForSave applies the stricter rules required before a save is
// transmitted: structural validity plus a non-empty subject on every
// Email step. Errors identify the offending step and field.
func (d *SequenceDocument) ValidateForSave() error {
	if err := d.Validate(); err != nil {
		return err
	}
	for i, s := range d.Steps {
		if s.Channel == ChannelEmail && strings.TrimSpace(s.Subject) == "" {
			return fmt.Errorf("step %d: subject is required for Email steps", i+1)
		}
	}
	return nil
}

// Normalize fills deterministic defaults for any step field the server
// left out, so every step is fully populated: sequential ids,
// position-derived step numbers, day offsets at a fixed spacing, Email
// as the default channel, and a timing label derived from the day.
func (d *SequenceDocument) Normalize() {
	if d == nil {
		return
	}
	if d.ID == "" {
		d.ID = NewSequenceID()
	}
	for i := range d.Steps {
		s := &d.Steps[i]
		if s.ID == "" {
			s.ID = NewStepID()
		}
		if s.StepNumber == 0 {
			s.StepNumber = i + 1
		}
		if s.Day == 0 && i > 0 && !s.dayExplicit {
			s.Day = i * DefaultStepSpacing
		}
		if s.Channel == "" {
			s.Channel = ChannelEmail
		}
		if s.Timing == "" {
			s.Timing = TimingForDay(s.Day)
		}
	}
}

// Renumber reassigns dense 1-based step numbers in list order. Called
// after every insertion or removal.
func (d *SequenceDocument) Renumber() {
	for i := range d.Steps {
		d.Steps[i].StepNumber = i + 1
	}
}

// Clone returns a deep copy of the document.
func (d *SequenceDocument) Clone() *SequenceDocument {
	if d == nil {
		return nil
	}
	out := *d
	out.Steps = make([]SequenceStep, len(d.Steps))
	copy(out.Steps, d.Steps)
	return &out
}

// TimingForDay returns the human-readable timing label for a day offset.
func TimingForDay(day int) string {
	if day == 0 {
		return "Initial Outreach"
	}
	return fmt.Sprintf("Day %d", day)
}
