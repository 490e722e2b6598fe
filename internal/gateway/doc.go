// Package gateway wires the chatline-gateway components together and runs the
// HTTP server: the inbound webhook, the read-only JSON API, health endpoints,
// and the optional CRM poller. It owns startup order and graceful shutdown.
package gateway
