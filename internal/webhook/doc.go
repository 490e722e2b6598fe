// Package webhook terminates the messaging provider's HTTP callbacks: inbound
// user messages, answered synchronously with TwiML, and delivery-status
// notifications.
package webhook
