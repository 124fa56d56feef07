// Package session manages the persistent message history of each identity.
//
// Invariants:
// - Identities are validated before they reach storage keys.
// - Appends for the same identity are serialized and carry strictly
//   increasing timestamps, so (identity, timestamp) pagination never skips
//   or repeats a message.
// - History is persisted in full; trimming for model context happens in the
//   orchestrator, never here.
//
// Usage:
//
//	mgr, _ := session.New(session.Config{Local: local})
//	msg, _ := mgr.Append(ctx, "alice", state.SenderUser, "hello")
//	page, _ := mgr.Page(ctx, "alice", 0, 50)
//	_ = page
package session
