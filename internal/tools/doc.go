// Package tools implements the client side of agent-initiated tool calls.
//
// During a conversation the agent may ask the gateway to perform a side effect
// such as texting the user a follow-up. The Dispatcher maps tool names to
// implementations and always produces a structured result, success or failure,
// so every call gets answered on the wire.
package tools
