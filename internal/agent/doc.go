// Package agent runs the tool-calling loop behind EventSync. A request is
// either a chat message, answered by letting the language model call the
// Eventbrite, POAP and wallet tools until it produces a reply, or a scripted
// instruction that invokes one tool directly. Each run is checkpointed per
// thread and recorded in the run repository.
package agent
