package agent

import (
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/internal/domain"
)

// Tool names exposed to the model and reported in tool lifecycle events.
const (
	ToolGenerateSequence = "generate_sequence"
	ToolUpdateSequence   = "update_sequence"
)

// SequenceArgs are the arguments of the generate_sequence tool.
type SequenceArgs struct {
	TargetRole       string `json:"target_role"`
	CompanyName      string `json:"company_name"`
	Industry         string `json:"industry,omitempty"`
	Tone             string `json:"tone,omitempty"`
	ValueProposition string `json:"value_proposition,omitempty"`
	NumSteps         int    `json:"num_steps,omitempty"`
}

// Days between touchpoints for a default five-step plan.
var stepDays = []int{0, 3, 5, 8, 12}

// BuildSequence assembles a complete outreach sequence from tool
// arguments. Step count is clamped to 1..5; the plan alternates email,
// LinkedIn, and a closing phone script.
func BuildSequence(args SequenceArgs) *domain.SequenceDocument {
	if args.TargetRole == "" {
		args.TargetRole = "Candidates"
	}
	if args.CompanyName == "" {
		args.CompanyName = "our company"
	}
	if args.Industry == "" {
		args.Industry = "Technology"
	}
	n := args.NumSteps
	if n < 1 {
		n = 3
	}
	if n > len(stepDays) {
		n = len(stepDays)
	}

	doc := &domain.SequenceDocument{
		ID:         domain.NewSequenceID(),
		Title:      fmt.Sprintf("%s Recruitment for %s", args.TargetRole, args.CompanyName),
		TargetRole: args.TargetRole,
		Industry:   args.Industry,
		Company:    args.CompanyName,
	}

	for i := 0; i < n; i++ {
		day := stepDays[i]
		step := domain.SequenceStep{
			ID:  domain.NewStepID(),
			Day: day,
		}
		switch i {
		case 0:
			step.Channel = domain.ChannelEmail
			step.Subject = fmt.Sprintf("Exciting opportunity for %ss at %s", args.TargetRole, args.CompanyName)
			step.Message = initialEmail(args)
			step.Timing = "Initial Outreach"
		case 1:
			step.Channel = domain.ChannelEmail
			step.Subject = fmt.Sprintf("Following up: %s opportunity at %s", args.TargetRole, args.CompanyName)
			step.Message = followupEmail(args, day)
			step.Timing = fmt.Sprintf("Day %d - Follow-up", day)
		case 2:
			step.Channel = domain.ChannelLinkedIn
			step.Message = linkedInMessage(args)
			step.Timing = fmt.Sprintf("Day %d - LinkedIn connection", day)
		case 3:
			step.Channel = domain.ChannelEmail
			step.Subject = fmt.Sprintf("One more thing about %s", args.CompanyName)
			step.Message = finalEmail(args)
			step.Timing = fmt.Sprintf("Day %d - Final attempt", day)
		default:
			step.Channel = domain.ChannelPhone
			step.Message = phoneScript(args)
			step.Timing = fmt.Sprintf("Day %d - Phone call", day)
		}
		doc.Steps = append(doc.Steps, step)
	}
	doc.Renumber()
	return doc
}

func valueLine(args SequenceArgs) string {
	if args.ValueProposition != "" {
		return args.ValueProposition
	}
	return fmt.Sprintf("we are building something special in %s and are looking for great %ss to build it with us", strings.ToLower(args.Industry), args.TargetRole)
}

func initialEmail(args SequenceArgs) string {
	return fmt.Sprintf(
		"Hi {{first_name}},\n\nI came across your profile and was impressed by your background as a %s. At %s, %s.\n\nWould you be open to a short conversation this week?\n\nBest,\n{{sender_name}}",
		args.TargetRole, args.CompanyName, valueLine(args))
}

func followupEmail(args SequenceArgs, day int) string {
	return fmt.Sprintf(
		"Hi {{first_name}},\n\nI wanted to follow up on my note from a few days ago about the %s role at %s. I know things get busy, so I will keep this short: I would love to hear your thoughts, even if the timing is not right.\n\nBest,\n{{sender_name}}",
		args.TargetRole, args.CompanyName)
}

func linkedInMessage(args SequenceArgs) string {
	return fmt.Sprintf(
		"Hi {{first_name}}, I reached out by email about a %s opportunity at %s and wanted to connect here as well. Happy to share more if you are curious.",
		args.TargetRole, args.CompanyName)
}

func finalEmail(args SequenceArgs) string {
	return fmt.Sprintf(
		"Hi {{first_name}},\n\nThis is my last note, I promise. If the %s role at %s is not for you, no hard feelings, and feel free to pass this along to anyone in your network who might be a fit.\n\nAll the best,\n{{sender_name}}",
		args.TargetRole, args.CompanyName)
}

func phoneScript(args SequenceArgs) string {
	return fmt.Sprintf(
		"Call script: introduce yourself, mention the two earlier emails about the %s role at %s, ask whether they had a chance to read them, and offer a 15-minute intro call at a time of their choosing.",
		args.TargetRole, args.CompanyName)
}
