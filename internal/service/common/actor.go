//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"google.golang.org/grpc/metadata"

	"github.com/oshokin/alarm-bridge/internal/api/grpc/bridge"
)

// Actor identifies who issues alarm actions.
type Actor struct {
	// Hostname is the machine name.
	Hostname string
	// Username is the login of the current user.
	Username string
}

// DetectActor gathers host and user information for the server audit log.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// outgoingContext attaches the actor to request metadata.
func (a *Actor) outgoingContext(ctx context.Context) context.Context {
	if a == nil {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx,
		bridge.MetadataHostname, a.Hostname,
		bridge.MetadataUsername, a.Username,
	)
}
