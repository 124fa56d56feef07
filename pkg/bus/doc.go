// Package bus fans out session events from the single writer to every
// observer in the process.
//
// Delivery is best effort: each subscriber owns a bounded queue, events are
// delivered to it in publish order, and an event that does not fit in a
// full queue is dropped for that subscriber only. Late subscribers see
// nothing published before they subscribed.
package bus
