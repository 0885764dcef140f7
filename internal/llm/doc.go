// Package llm defines the boundary to the reasoning capability. A Reasoner
// receives the system prompt, conversation history, grounding passages and
// tool schema, and answers with exactly one Result: free text or a single
// structured tool call.
package llm
