package state

import (
	"fmt"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

// appID scopes the protected machine id so it cannot be correlated with
// other applications reading the same OS identifier.
const appID = "toolsync"

const seedLength = 8

// Identity names the machine that owns a state file.
type Identity struct {
	MachineID string
	Hostname  string
}

// NewIdentity derives a stable identity for the current machine from its
// hostname and the OS machine id. When no OS machine id is available the
// seed falls back to a name-based UUID of the hostname.
func NewIdentity() (Identity, error) {
	host, err := os.Hostname()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to determine hostname: %w", err)
	}

	seed, err := machineid.ProtectedID(appID)
	if err != nil || seed == "" {
		seed = uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()
	}
	return IdentityFrom(host, seed), nil
}

// IdentityFrom builds an identity from an explicit hostname and seed.
func IdentityFrom(hostname, seed string) Identity {
	seed = strings.ReplaceAll(strings.ToLower(seed), "-", "")
	if len(seed) > seedLength {
		seed = seed[:seedLength]
	}
	return Identity{
		MachineID: hostname + "-" + seed,
		Hostname:  hostname,
	}
}
