// Package storage persists the chat directory: the remote groups the bot has
// seen, so that listing groups works without a platform-side chat list.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file
//   - "file": snapshot + JSON Lines journal
//
// The store lives inside the session directory, so logging out wipes it
// together with the credentials.
package storage
