/*
Package event provides the Observability event stream: a type-safe pub/sub
bus that every component publishes to so the Orchestrator, CLI, and any
external watcher can observe a session's progress without a direct
dependency on the component that produced the event.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It supports
both synchronous and asynchronous publishing.

# Event Kinds

	session_start  Orchestrator begins a session (see checkpoint triggers)
	session_end    Session loop returns continue | intervention | complete | error | auth_error
	tool_call      A tool call cleared Risk/Autonomy/Escalation and was dispatched
	tool_result    A tool call finished: ok | blocked | error
	decision       An autonomy/escalation/risk decision was recorded
	warning        A non-fatal condition worth surfacing (budget, stall, demotion)
	error          A session-level failure not tied to one tool result
	usage_report   Token counts and cost estimate for a turn or session rollup

Each Event carries SessionID and a monotonic Seq obtained from NextSeq, so a
session's stream is totally ordered even when multiple goroutines observe
events concurrently. Fire-and-forget persistence writes are ordered per-row
but not globally — a reader needing the latest state must query the
Persistence Store rather than trust stream recency.

# Basic Usage

Publishing events:

	event.Publish(event.Event{
		Type:      event.ToolCall,
		SessionID: sess.ID,
		Seq:       event.NextSeq(sess.ID),
		Time:      now,
		Data: event.ToolCallData{
			SessionID: sess.ID,
			ToolID:    toolID,
			Name:      name,
			Input:     input,
		},
	})

	// Synchronous publishing (blocks until all subscribers complete)
	event.PublishSync(event.Event{Type: event.SessionEnd, ...})

Subscribing to a single kind:

	unsubscribe := event.Subscribe(event.ToolResult, func(e event.Event) {
		data := e.Data.(event.ToolResultData)
		logging.Info().Str("tool", data.Name).Str("outcome", string(data.Outcome)).Msg("tool result")
	})
	defer unsubscribe()

Subscribing to everything (e.g. the CLI's live event tail):

	unsubscribe := event.SubscribeAll(func(e event.Event) {
		logging.Debug().Str("type", string(e.Type)).Msg("event")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run synchronously in the publisher's
goroutine. Subscribers MUST:

  - Complete quickly (no long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks the publisher might hold

Example of a safe subscriber:

	event.SubscribeAll(func(e event.Event) {
		select {
		case eventChan <- e:
		default:
			logging.Warn().Str("type", string(e.Type)).Msg("event dropped, channel full")
		}
	})

# Custom Event Bus

For testing or isolating a single session's stream, create a private bus:

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.SessionStart, handler)
	bus.PublishSync(event.Event{Type: event.SessionStart, Data: data})

# Testing

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The bus is safe for concurrent publish and subscribe from multiple
goroutines.

# Integration with Watermill

The package uses watermill's gochannel internally and exposes it via PubSub
for advanced use (middleware, routing, or migrating to a distributed broker
without changing the public API):

	pubsub := event.PubSub()
*/
package event
