// Package sms delivers outbound text messages through a Twilio-compatible
// messaging API. It backs both the agent's send_message tool and any direct
// notification paths in the gateway.
package sms
