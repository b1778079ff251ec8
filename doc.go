// Package auth orchestrates sign in and session state for the kazini client
// and its companion service.
//
// Login methods:
//   - Handlers exposes password sign in and sign up, magic link requests,
//     phone OTP request and verification, OAuth redirects and guest access.
//     Each method returns one Result (LoginOK, NeedsVerification, Pending or
//     Failure) and never panics.
//   - Remote failures are classified into an ErrorKind backed by a go-errors
//     sentinel and translated into a user facing message.
//
// Session state:
//   - SessionStore holds at most one User and its token pair, mirrored to a
//     LocalCache under CacheKeyUser so a restart shows the last user at once.
//   - ProfileSynchronizer merges the remote identity with its profile record.
//     The remote plan always wins over a cached one; store failures are logged
//     and the login still succeeds.
//   - SessionReconciler applies auth state notifications from the authority
//     on a single goroutine, skipping the ones a direct login already applied.
//   - MagicLinkProcessor completes a magic link landing once, moving through
//     idle, processing and then success or error.
//
// Routing:
//   - RouteForPlan picks the post login destination and CanAccess gates plan
//     restricted routes. Destinations are published on a Signals hub instead
//     of global events.
//
// SessionContext wires all of the above for one process; sub packages
// provide the concrete authority client, profile stores, caches and the HTTP
// surface.
package auth
