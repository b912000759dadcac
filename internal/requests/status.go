package requests

// CheckTransition validates moving a request from current to next. Staying put and moving
// exactly one step forward are the only legal moves.
func CheckTransition(current, next Status) error {
	to := next.Order()
	if to < 0 {
		return &ValidationError{Errors: []string{"Invalid status value"}}
	}
	from := current.Order()
	if to < from {
		return &ValidationError{Errors: []string{"Cannot move backwards in status"}}
	}
	if to > from+1 {
		return &ValidationError{Errors: []string{"Cannot skip Processing status"}}
	}
	return nil
}
