package receipt

import "fmt"

// transitions lists the moves the pipeline may make on its own. Re-linking
// a completed file keeps it completed and is not a transition.
var transitions = map[OCRStatus][]OCRStatus{
	OCRPending: {OCRCompleted, OCRFailed},
	// Only an explicit retry moves a failed file back.
	OCRFailed: {OCRPending},
}

// CanTransition reports whether a file may move from one status to another.
func CanTransition(from, to OCRStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to OCRStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
