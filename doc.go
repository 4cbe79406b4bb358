// Package authclient is a JSON API client that shares one expiring access
// token between any number of concurrent requests.
//
// When a request to a non-auth path gets a 401, the client refreshes the token
// once, no matter how many requests hit the 401 at the same time, and replays
// each of them exactly once in the order their 401s were observed. If the
// refresh fails the session is cleared, OnLogout subscribers are notified, and
// the waiting requests are replayed without credentials so public endpoints
// keep working.
//
// # Architecture boundaries
//
// authclient is the public surface: [Client], [Builder], [Config], [Request],
// [Response] and [APIError]. Session persistence lives in package session,
// token inspection in package token, and event dispatch under internal/.
//
// # What this package must NOT do
//
//   - Write the session store from the request path; only the refresher,
//     Login and Logout write it.
//   - Surface a bare transport error from Do; every failed exchange is an
//     *APIError.
//   - Refresh twice for one logical request.
package authclient
