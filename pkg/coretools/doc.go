// Package coretools provides the built-in tools the agent can call: state
// editing (goals, knowledge graph, self model, journal, proposals), Go code
// execution, a per-identity key-value store and virtual filesystem, HTTP
// fetch and web search, and long-term memory.
//
// Every tool computes its patch against the snapshot in its Invocation and
// never touches the live state.
package coretools
