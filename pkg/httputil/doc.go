// Package httputil provides HTTP utilities shared by every handler: the
// response envelope, JSON decoding, parameter parsing, and common middleware.
//
// # Response Envelope
//
// Every endpoint writes the same envelope shape:
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreatedMessage(w, "role assigned", assignment)
//	httputil.WritePage(w, rows, httputil.NewPagination(page, limit, total))
//
// Error responses carry success=false and an error string:
//
//	httputil.WriteBadRequest(w, "user_id must be positive")
//	httputil.WriteUnauthorized(w, "invalid or expired token")
//	httputil.WriteConflict(w, "user already has this active role")
//
// WriteInternalError never echoes the underlying error to the client; the
// caller logs the detail.
//
// # Request Parsing
//
// JSON bodies:
//
//	var req assignPayload
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//
// Path and query parameters:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	all, err := httputil.ParseQueryBool(r, "all", false)
//	since, err := httputil.ParseQueryTime(r, "start_date")
//	page, err := httputil.ParsePageParams(r, 20)
//
// # Middleware
//
//	router.Use(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.CORSMiddleware(origins),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: authentication and rate limiting
//   - pkg/contextkeys: request-scoped context keys
package httputil
