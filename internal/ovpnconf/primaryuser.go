package ovpnconf

import (
	"fmt"

	"github.com/nullvine/vpnsupervisor/internal/log"
	"github.com/nullvine/vpnsupervisor/internal/types"
)

// ServerUserPrefix prefixes the name of every minted primary (server
// identity) user, mirroring the original's SERVER_USER_PREFIX.
const ServerUserPrefix = "server_"

// EnsurePrimaryUser mints a new server-type certificate in the server's
// first attached organization and records both ids on rec, if either is
// unset. commit persists the record; if it fails, the newly-minted user is
// removed (best-effort compensation), matching spec.md §4.B.
func EnsurePrimaryUser(rec *types.ServerRecord, orgs []types.Organization, commit func() error) error {
	if rec.PrimaryOrganization != "" && rec.PrimaryUser != "" {
		return nil
	}
	if len(orgs) == 0 {
		return fmt.Errorf("ovpnconf: primary user cannot be created without any organizations")
	}

	org := orgs[0]
	user, err := org.NewUser(types.CertServer, ServerUserPrefix+rec.ID)
	if err != nil {
		return fmt.Errorf("ovpnconf: mint primary user: %w", err)
	}

	rec.PrimaryOrganization = org.ID()
	rec.PrimaryUser = user.ID()

	if err := commit(); err != nil {
		log.WithComponent("ovpnconf").Error().Err(err).
			Str("server_id", rec.ID).Str("user_id", user.ID()).
			Msg("failed to commit server conf on primary user creation, removing user")
		if rmErr := org.RemoveUser(user.ID()); rmErr != nil {
			log.WithComponent("ovpnconf").Error().Err(rmErr).
				Str("server_id", rec.ID).Str("user_id", user.ID()).
				Msg("failed to remove primary user after commit failure")
		}
		rec.PrimaryOrganization = ""
		rec.PrimaryUser = ""
		return fmt.Errorf("ovpnconf: commit after minting primary user: %w", err)
	}
	return nil
}

// RemovePrimaryUser clears rec's primary organization/user pair and
// removes the user from its organization. Clearing happens first, and
// always as a pair, per spec.md §3's invariant. A missing organization or
// user is a clean no-op, per spec.md §9's open question: the original logs
// user.id in a branch where user has just been determined to be falsy,
// which is a latent bug, not intended behavior.
func RemovePrimaryUser(rec *types.ServerRecord, orgs types.OrganizationStore) error {
	primaryOrgID := rec.PrimaryOrganization
	primaryUserID := rec.PrimaryUser
	rec.PrimaryOrganization = ""
	rec.PrimaryUser = ""

	if primaryOrgID == "" || primaryUserID == "" {
		return nil
	}

	org, ok := orgs.Organization(primaryOrgID)
	if !ok {
		return nil
	}
	user, ok := org.GetUser(primaryUserID)
	if !ok {
		return nil
	}
	return org.RemoveUser(user.ID())
}
