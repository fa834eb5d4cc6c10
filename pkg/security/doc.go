// Package security holds credential primitives used by the user store:
// password hashing with transparent upgrade of legacy hash formats, and
// random token generation for sessions and API keys.
package security
