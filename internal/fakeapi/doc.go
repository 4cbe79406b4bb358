// Package fakeapi is an in-process REST backend that speaks the same auth
// protocol as the production API: JWT access tokens, rotating single-use
// refresh tokens, and DRF-style error bodies.
//
// It backs the client tests, the load test and the authctl demo server.
//
// # Routes
//
//	POST   /auth/login/     {"username","password"} -> {"access","refresh","user"}
//	POST   /auth/refresh/   {"refresh"} -> {"access","refresh"}
//	POST   /auth/register/  {"username","password"} -> 201 {"id","username"}
//	POST   /auth/logout/    {"refresh"} -> 204
//	GET    /orders/         protected list
//	DELETE /orders/{id}/    protected, 204
//	GET    /profile/        protected
//	GET    /events/         public, but rejects an invalid bearer token
//	GET    /empty/          200 with an empty body
//	GET    /broken/         200 with a non-JSON body
//
// # What this package must NOT do
//
//   - Import the client packages; it must stay usable as an independent server.
package fakeapi
