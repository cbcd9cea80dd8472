// Package hub fans committed updates out to live subscribers.
//
// Hub exclusively owns subscription state. Each Subscription has an interest
// set (all stations or a subset) and a bounded outbound queue; Publish
// enqueues to every interested subscription in per-station commit order, and
// a queue overflow forcibly closes that subscription — bounded backpressure
// rather than unbounded growth, leaving other subscribers unaffected. New
// subscriptions receive a catch-up burst of the current latest snapshots for
// their interest set before live delivery begins, so a dashboard never starts
// blank or sees duplicated history.
//
// The hub core is transport-agnostic: transports drain Subscription.Updates.
// ws.go adapts gorilla/websocket with the usual ping/pong read and write
// pumps; the endpoint takes an optional ?stations=a,b filter.
package hub
