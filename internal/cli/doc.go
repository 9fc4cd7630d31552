// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. Each
// cobra command builds an app.App from the persistent flags, runs one engine
// operation and renders the result.
package cli
