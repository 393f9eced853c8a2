// Package orgs manages users, organizations, memberships and invitations.
//
// # Overview
//
// A user belongs to any number of organizations and has at most one
// current organization. Every change of the current organization goes
// through Service.SwitchCurrentOrganization, which persists the pointer
// and drops the user's cached permissions in the same call.
//
// # Membership rules
//
//   - The creator of an organization is its owner. The owner role is bound
//     to Organization.OwnerID and can be neither reassigned nor removed.
//   - Personal organizations cannot be left or deleted.
//   - When a user loses the organization they currently work in, they are
//     moved to their personal organization, else to the oldest remaining
//     membership, else the pointer is cleared.
//
// # Invitations
//
// Invitations are addressed to an email and carry the role to grant.
// Expiry is checked lazily on acceptance. Resending is rate limited by the
// time since the last delivery.
//
// # Errors
//
// Business rule rejections are *ValidationError values keyed by input
// field. Store lookups that find nothing return ErrNotFound.
//
//	if ve, ok := orgs.AsValidationError(err); ok {
//	    // render ve.Field / ve.Message
//	}
package orgs
