package deal

// Status represents the lifecycle position of a deal. Transitions are legal
// only along the edges in the transitions table; completed and cancelled are
// terminal.
type Status string

const (
	StatusCreated          Status = "created"
	StatusPaymentPending   Status = "payment_pending"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusDelivered        Status = "delivered"
	StatusCompleted        Status = "completed"
	StatusDisputed         Status = "disputed"
	StatusCancelled        Status = "cancelled"
)

// transitions is the authoritative edge set. Every status write in the
// system goes through Machine.ApplyLocked, which rejects anything not
// listed here.
var transitions = map[Status][]Status{
	StatusCreated:          {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:   {StatusPaymentConfirmed, StatusCancelled, StatusDisputed},
	StatusPaymentConfirmed: {StatusDelivered, StatusDisputed},
	StatusDelivered:        {StatusCompleted, StatusDisputed},
	StatusDisputed:         {StatusPaymentConfirmed, StatusDelivered, StatusCancelled, StatusCompleted},
}

// CanTransition reports whether moving from one status to the next follows
// a legal edge.
func CanTransition(from, next Status) bool {
	for _, dest := range transitions[from] {
		if dest == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaymentPending, StatusPaymentConfirmed,
		StatusDelivered, StatusCompleted, StatusDisputed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ResolutionOutcomes are the statuses an arbitrator may drive a disputed
// deal to.
var ResolutionOutcomes = []Status{
	StatusPaymentConfirmed,
	StatusDelivered,
	StatusCancelled,
	StatusCompleted,
}

// ValidResolutionOutcome reports whether the status is a permitted dispute
// resolution target.
func ValidResolutionOutcome(s Status) bool {
	for _, o := range ResolutionOutcomes {
		if o == s {
			return true
		}
	}
	return false
}
