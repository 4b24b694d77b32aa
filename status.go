package eventq

// Status represents the resting state of a queue item.
type Status string

const (
	// StatusPending indicates the item is waiting to be claimed.
	StatusPending Status = "pending"
	// StatusProcessing indicates a worker currently holds the claim.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the item was processed successfully.
	StatusCompleted Status = "completed"
	// StatusDeadLetter indicates the item exhausted its retry budget or failed terminally.
	StatusDeadLetter Status = "dead_letter"
)

// Valid reports whether s is one of the known resting states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusDeadLetter:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a settled state that items never leave.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}
