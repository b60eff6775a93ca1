// Package notify implements Carelink's notification delivery engine.
//
// Delivery is at-least-once with an offline fallback: every notification is
// persisted first, then pushed to the recipient's live websocket connection
// when one exists. Recipients who are offline (or whose send queue is
// saturated) read the persisted record later; the read flag and an expiry
// horizon bound the backlog.
package notify
