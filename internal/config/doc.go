// Package config handles configuration loading for chatline-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	messaging:
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  idle_timeout: "60s"
//	  reply_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # webhook, API, and health endpoints
//
// Database:
//
//	database:
//	  path: "/var/lib/chatline/gateway.db"
//
// Conversational agent:
//
//	agent:
//	  ws_url: "wss://api.elevenlabs.io/v1/convai/conversation"
//	  agent_id: "${ELEVENLABS_AGENT_ID}"
//	  api_key: "${ELEVENLABS_API_KEY}"
//	  idle_timeout: "60s"
//	  reply_timeout: "30s"
//
// Messaging provider:
//
//	messaging:
//	  account_sid: "${TWILIO_ACCOUNT_SID}"
//	  auth_token: "${TWILIO_AUTH_TOKEN}"
//	  from_number: "+15550001111"
//
// CRM sync:
//
//	crm:
//	  enabled: true
//	  base_url: "https://api.hubapi.com"
//	  access_token: "${HUBSPOT_ACCESS_TOKEN}"
//	  poll_interval: "10m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
