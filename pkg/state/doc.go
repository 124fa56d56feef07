// Package state defines the agent session state and the merge protocol used
// to change it.
//
// Every mutation is expressed as a Patch, a partial JSON object, and folded
// into the current state with Merge. Objects merge recursively while arrays
// and scalars are replaced wholesale. Callers run ValidatePatch at the merge
// boundary so a malformed upstream patch cannot turn an array field into a
// scalar.
package state
