package run

import (
	"fmt"
	"strings"
)

// FatalError reports a condition the transcript cannot represent. When Run
// returns one, the run stopped at that session and no transcript should be
// written.
type FatalError struct {
	SessionIndex int
	Session      string
	Reason       string
	// Roles lists the roles still provisioned after teardown, if any.
	Roles []string
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("session %d (%s): %s", e.SessionIndex, e.Session, e.Reason)
	if len(e.Roles) > 0 {
		msg += ": " + strings.Join(e.Roles, ", ")
	}
	return msg
}
