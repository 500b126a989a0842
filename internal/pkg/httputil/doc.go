// Package httputil holds the JSON envelope and response helpers shared by
// every handler in internal/api. Handlers never write raw bodies; they go
// through JSON or one of the status helpers so error shapes stay uniform.
package httputil
