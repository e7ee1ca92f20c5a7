/*
Package event provides a type-safe pub/sub event system for the gateway.

The event system enables decoupled communication between different components of the
gateway by allowing publishers to emit events and subscribers to react to them without
direct dependencies. The turn orchestrator publishes its turn, tool and approval
events here; the chat SSE stream itself is written by the orchestrator directly, not
through the bus.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while maintaining
direct-call semantics to preserve type information. It provides both synchronous and
asynchronous event publishing patterns.

# Event Types

Session Events:
  - session.created: New session created
  - session.updated: Session modified (title, lastModel, origin patch)
  - session.deleted: Session removed

Turn Events:
  - turn.delta: One incremental assistant text chunk
  - turn.assistant_end: Assistant text closed for one step

Tool Events:
  - tool.call: A tool invocation announced, possibly pending approval
  - tool.result: A tool invocation's outcome

Approval Events:
  - approval.required: An approval ticket was enqueued
  - approval.resolved: An approval ticket reached a terminal decision

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking) — advisory/debug events only.
	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Session: meta},
	})

	// Synchronous publishing (blocking until all subscribers complete) — the
	// orchestrator's turn events always use this path so SSE delivery stays
	// in generation order.
	event.PublishSync(event.Event{
		Type: event.TurnDelta,
		Data: event.TurnDeltaData{SessionID: sid, Text: chunk},
	})

Subscribing to specific events:

	unsubscribe := event.Subscribe(event.TurnDelta, func(e event.Event) {
		data := e.Data.(event.TurnDeltaData)
		writeSSE(data.SessionID, data.Text)
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the publisher's
goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

# Custom Event Bus

For testing or isolation, you can create custom bus instances:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SessionCreated, handler)
	bus.PublishSync(event.Event{Type: event.SessionCreated, Data: data})

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple goroutines.

# Integration with Watermill

The package uses watermill's gochannel internally, providing access to the underlying
pubsub infrastructure for advanced use cases:

	pubsub := event.PubSub()
*/
package event
