package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentUnavailable indicates that the local control API could not be reached or answered with a failure.
	ErrAgentUnavailable = errors.New("agent unavailable")
	// ErrJoinAttemptFailed indicates that the agent could not join a specific peer.
	ErrJoinAttemptFailed = errors.New("join attempt failed")
	// ErrEmptyPeer is returned when Join is handed a blank peer address.
	ErrEmptyPeer = errors.New("peer address cannot be empty")
)

// ErrBadAgentURL returns an error to indicate that the given agent url cannot be used as a base url.
func ErrBadAgentURL(u string) error {
	return fmt.Errorf("agent url %q must be of the form http(s)://<host>:<port>", u)
}

// ErrBadStatus is wrapped into ErrAgentUnavailable/ErrJoinAttemptFailed when the agent answers with a non-success code.
type ErrBadStatus struct {
	Endpoint string
	Code     int
	Body     string
}

func (e ErrBadStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s returned status %d (%s)", e.Endpoint, e.Code, e.Body)
}
