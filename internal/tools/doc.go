// Package tools provides the process execution helpers shared by camctl modules.
//
// Ownership boundary:
// - command execution with line-by-line output streaming
//
// - local and ssh-backed runners
//
// - filesystem probes that follow the runner's host
package tools
