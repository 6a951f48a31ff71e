package ai

// Action is the next step the assistant wants the conversation to take.
type Action string

const (
	ActionReply            Action = "reply"
	ActionEscalate         Action = "escalate"
	ActionScheduleFollowUp Action = "schedule_followup"
	ActionRequestPayment   Action = "request_payment"
)

// MoodLabel is the customer mood as reported in a Decision.
type MoodLabel string

const (
	MoodReceptive MoodLabel = "receptive"
	MoodNeutral   MoodLabel = "neutral"
	MoodNegative  MoodLabel = "negative"
)

// OutcomeLabel is the predicted conversation outcome.
type OutcomeLabel string

const (
	OutcomeResolved        OutcomeLabel = "Resolved"
	OutcomePaymentPromised OutcomeLabel = "Payment Promised"
	OutcomeNeedsFollowUp   OutcomeLabel = "Needs Follow-up"
	OutcomeEscalate        OutcomeLabel = "Escalate"
)

// Origin records where a Decision came from. Observability only.
type Origin string

const (
	OriginModel    Origin = "model"
	OriginFallback Origin = "fallback"
	OriginCache    Origin = "cache"
)

var (
	validActions  = []Action{ActionReply, ActionEscalate, ActionScheduleFollowUp, ActionRequestPayment}
	validMoods    = []MoodLabel{MoodReceptive, MoodNeutral, MoodNegative}
	validOutcomes = []OutcomeLabel{OutcomeResolved, OutcomePaymentPromised, OutcomeNeedsFollowUp, OutcomeEscalate}
)

// Mood is a labelled mood with confidence in [0,1].
type Mood struct {
	Label      MoodLabel `json:"label"`
	Confidence float64   `json:"confidence"`
}

// Outcome is a labelled outcome with confidence in [0,1].
type Outcome struct {
	Label      OutcomeLabel `json:"label"`
	Confidence float64      `json:"confidence"`
}

// Decision is the structured result of one conversation turn, whatever produced it.
type Decision struct {
	ReplyText string   `json:"assistant_text"`
	Mood      Mood     `json:"mood"`
	Summary   []string `json:"summary"`
	Action    Action   `json:"action"`
	Outcome   Outcome  `json:"outcome_hint"`
	Origin    Origin   `json:"origin,omitempty"`
}

// Chat roles understood by the model endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one element of the history sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
