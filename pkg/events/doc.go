// Package events publishes schema lifecycle events.
//
// The lifecycle coordinator emits a DomainEvent after each committed
// transition. Sinks deliver them:
//
//   - LogSink writes structured log lines
//   - WebhookSink POSTs signed JSON with exponential backoff retries
//   - KafkaSink produces to a topic keyed by schema ref
//   - AMQPSink publishes to a RabbitMQ exchange, routed by event type
//   - MultiSink fans out, FilterSink selects event types
//   - AsyncSink moves delivery onto a worker pool so transitions never wait
//     on a slow subscriber
//
// Receivers verify webhook payloads with VerifySignature:
//
//	body, _ := io.ReadAll(r.Body)
//	if !events.VerifySignature(body, r.Header.Get(events.HeaderSignature), secret) {
//		http.Error(w, "bad signature", http.StatusUnauthorized)
//		return
//	}
package events
