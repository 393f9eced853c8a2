// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteFieldError(w, "email", "This user is already a member of the organization.")
//	httputil.WritePaymentRequired(w, "Please upgrade your plan.", "items")
//	httputil.WriteForbidden(w, "This action is unauthorized.")
//
// Validation failures are 422 responses shaped as
//
//	{"message": "...", "errors": {"field": ["..."]}}
//
// # Request Parsing
//
//	var req CreateOrganizationRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
//	invitationID, ok := httputil.ParsePathUUIDOrError(w, r, "invitation_id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestID,
//		httputil.Logging(logger),
//		httputil.Recovery(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// Logging puts the logger in the request context, so handlers log through
// observability.FromContext and pick up request, user and organization ids.
package httputil
