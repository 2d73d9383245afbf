// Package middleware builds the theme-independent pipeline stages: method
// override, cookie parsing, response timing, sessions and form parsing.
// Every constructor returns a server.Stage carrying its fixed tag.
package middleware
