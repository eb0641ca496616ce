package coach

// ReplyKind tags a coach reply so callers can tell conversation content from
// infrastructure failure.
type ReplyKind string

const (
	ReplyWelcome     ReplyKind = "welcome"
	ReplyGreeting    ReplyKind = "greeting"
	ReplyFollowUp    ReplyKind = "follow_up"
	ReplyIntro       ReplyKind = "intro"
	ReplyCoaching    ReplyKind = "coaching"
	ReplyConfirmEnd  ReplyKind = "confirm_end"
	ReplyResume      ReplyKind = "resume"
	ReplyFarewell    ReplyKind = "farewell"
	ReplyServiceFail ReplyKind = "error"
)

// Reply is one message from the coach.
type Reply struct {
	Kind    ReplyKind `json:"kind"`
	Content string    `json:"content"`
	// ErrorKind is set on ReplyServiceFail replies.
	ErrorKind string `json:"error_kind,omitempty"`
}

// IsError reports whether the reply stands in for a failed completion.
func (r Reply) IsError() bool { return r.Kind == ReplyServiceFail }
