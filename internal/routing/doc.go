// Package routing turns stream data events into webhook deliveries.
//
// # Overview
//
// The Router resolves the destinations of an event by looking up its author
// account in the current rules.RoutingTable, formats one notification and
// hands it to a Sender once per destination. Destinations are delivered to
// concurrently and independently: a destination answering with anything but
// 204 is logged and reported in the results, and never prevents delivery to
// the others.
//
// Matching-rule tags are not used for resolution. Rules pack many accounts
// into one tag, so a tag cannot name a destination; the author account can.
//
// # Metrics
//
// Every delivery is reported to an optional Observer, which the metrics
// package implements with Prometheus counters and histograms.
package routing
