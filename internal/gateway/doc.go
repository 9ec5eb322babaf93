// Package gateway wires the service together: config, durable store,
// provider client, session manager, timeout supervisor, and frontends, with
// a graceful shutdown that pauses and persists every active session.
package gateway
