// Package api provides the HTTP REST API of the multi-tenant organization
// and billing core.
//
// # Overview
//
// The API exposes user registration, organization membership, invitations,
// subscription billing and the in-app notification inbox. Every route
// except registration, pricing, the provider webhook and the health
// endpoints requires a bearer token issued by package auth.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups:
//
//   - Auth: registration, the caller's profile and permissions, API tokens
//   - Organizations: create, update, delete, switch and leave
//   - Members: list, change roles, remove
//   - Invitations: invite, accept, resend and cancel
//   - Billing: pricing, the billing summary, checkout, the customer portal,
//     metered usage and provider webhooks
//   - Notifications: list, unread count, mark read and delete
//
// Organization routes are authorized in the handlers against the target
// organization through authz.Policy. Billing routes act on the caller's
// current organization and are guarded by the middleware package.
//
// # Usage
//
//	server := api.NewServer(api.Dependencies{
//		Orgs:        service,
//		Roles:       registry,
//		Permissions: resolver,
//		Tokens:      tokens,
//		// ...
//	}, api.Config{PortalReturnURL: "https://app.example.com/billing"})
//	http.ListenAndServe(":8080", server)
//
// # Errors
//
// Validation failures answer 422 with a field keyed error and a machine
// readable code. Plan limits and missing subscriptions answer 402,
// authorization failures 403 and a missing current organization 409.
package api
