// Package order defines the order lifecycle state machine.
package order

import "fmt"

// Status is the lifecycle state of an order. The zero value is not a valid status;
// values coming from the wire or the database must go through ParseStatus.
type Status string

const (
	StatusNew           Status = "new"
	StatusReserved      Status = "reserved"
	StatusProduction    Status = "production"
	StatusQC            Status = "qc"
	StatusShipped       Status = "shipped"
	StatusCancelled     Status = "cancelled"
	StatusRefunded      Status = "refunded"
	StatusPaymentFailed Status = "payment_failed"
)

// transitions is the total transition table. A status missing a target in its set
// cannot move there; terminal statuses have an empty set.
var transitions = map[Status]map[Status]bool{
	StatusNew:           {StatusReserved: true, StatusPaymentFailed: true, StatusCancelled: true},
	StatusReserved:      {StatusProduction: true, StatusCancelled: true},
	StatusProduction:    {StatusQC: true, StatusCancelled: true},
	StatusQC:            {StatusShipped: true, StatusCancelled: true},
	StatusShipped:       {},
	StatusCancelled:     {},
	StatusRefunded:      {},
	StatusPaymentFailed: {},
}

// ParseStatus converts a wire string into a Status.
// Returns an error for anything outside the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown order status: %q", s)
	}
	return st, nil
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// AllowedNext returns the set of statuses reachable from s.
func AllowedNext(s Status) []Status {
	next := make([]Status, 0, len(transitions[s]))
	for t := range transitions[s] {
		next = append(next, t)
	}
	return next
}

func (s Status) String() string {
	return string(s)
}
