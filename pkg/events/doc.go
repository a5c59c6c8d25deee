/*
Package events is a small in-memory pub/sub broker for block lifecycle
notifications: admitted, evicted, removed, rejected, partially unrolled.
Delivery is best-effort and non-blocking: a slow subscriber drops events
rather than stalling publication, since nothing in the core store's
correctness depends on a subscriber seeing every event.
*/
package events
