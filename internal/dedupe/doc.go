// Package dedupe provides a TTL-bounded cache for suppressing duplicate
// inbound deliveries, keyed by the provider's message id.
package dedupe
