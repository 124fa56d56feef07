// Package snapshot exports and detects portable session snapshots: a JSON
// object holding a full agent state and the message history.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kskip310/luminous/pkg/state"
	"github.com/tidwall/gjson"
)

// ErrNotSnapshot is returned by Detect for content that is not a snapshot.
var ErrNotSnapshot = errors.New("not a snapshot")

// markerPath must resolve inside a snapshot for it to be recognized.
const markerPath = "state.sessionState"

// Snapshot is the export file format.
type Snapshot struct {
	State    state.AgentState `json:"state"`
	Messages []state.Message  `json:"messages"`
}

// Export serializes st and msgs as an indented snapshot document.
func Export(st state.AgentState, msgs []state.Message) ([]byte, error) {
	st.Normalize()
	if msgs == nil {
		msgs = []state.Message{}
	}
	data, err := json.MarshalIndent(Snapshot{State: st, Messages: msgs}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Detect parses data as a snapshot. Content without a state object carrying
// the marker field returns ErrNotSnapshot so callers can treat it as text.
func Detect(data []byte) (Snapshot, error) {
	if !gjson.ValidBytes(data) {
		return Snapshot{}, ErrNotSnapshot
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() || !root.Get("state").IsObject() {
		return Snapshot{}, ErrNotSnapshot
	}
	marker := root.Get(markerPath)
	if !marker.Exists() || marker.Type != gjson.String {
		return Snapshot{}, ErrNotSnapshot
	}
	if msgs := root.Get("messages"); msgs.Exists() && !msgs.IsArray() {
		return Snapshot{}, fmt.Errorf("snapshot messages must be an array")
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	snap.State.Normalize()
	if snap.Messages == nil {
		snap.Messages = []state.Message{}
	}
	return snap, nil
}
