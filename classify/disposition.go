package classify

// Action is the verdict label returned by the model.
type Action string

const (
	ActionAutoReply    Action = "AUTO_REPLY"
	ActionManualReview Action = "NEED_MANUAL_REVIEW"
	ActionSkip         Action = "SKIP"
)

// Disposition is the resolved verdict for one message. It is implemented by
// AutoReply, ManualReview and Skip only.
type Disposition interface {
	Action() Action
	disposition()
}

// AutoReply asks the pipeline to send HTMLBody to the sender.
type AutoReply struct {
	HTMLBody string
}

// ManualReview hands the message to a human operator.
type ManualReview struct {
	Reason    string
	AlertText string
}

// Skip leaves the message alone.
type Skip struct {
	Reason string
}

func (AutoReply) Action() Action    { return ActionAutoReply }
func (ManualReview) Action() Action { return ActionManualReview }
func (Skip) Action() Action         { return ActionSkip }

func (AutoReply) disposition()    {}
func (ManualReview) disposition() {}
func (Skip) disposition()         {}
