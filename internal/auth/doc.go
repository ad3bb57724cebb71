// Package auth provides API key authentication middleware for the daemon's
// HTTP surface. When the configured mode is not "apikey", or no key is set
// in the environment, the middleware passes every request through unchanged.
package auth
