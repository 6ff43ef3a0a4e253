// Package streamer installs camera-streamer on the board: OS dependencies,
// source checkout, and the make / make install build.
//
// Every operation is a short linear chain of steps that stops at the first
// failure. Mutating operations are single-flight per Installer and, when a
// lock file is configured, per host.
package streamer
