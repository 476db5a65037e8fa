// Package llm defines the chat model contract the agent loop depends on:
// role-tagged messages, tool specifications and tool calls. Provider adapters
// live in subpackages.
package llm
