package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoverySourceEmpty indicates a resolver found no eligible peers.
	ErrDiscoverySourceEmpty = errors.New("discovery source returned no peers")
	// ErrDiscoverySourceUnreachable indicates the metadata or inventory api could not be queried.
	// Resolvers fold it into an empty result; it only surfaces in logs.
	ErrDiscoverySourceUnreachable = errors.New("discovery source unreachable")
)

// ErrBadTag returns an error to indicate that the given string is not of the form key=value.
func ErrBadTag(s string) error {
	return fmt.Errorf("membership tag %q must be of the form <key>=<value>", s)
}
