// Package metrics exposes the service's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts messages accepted and stored by the intake
	// pipeline.
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsink",
		Subsystem: "intake",
		Name:      "messages_received_total",
		Help:      "Total number of messages ingested and stored",
	})

	// ParseFailures counts DATA streams rejected as malformed mail.
	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsink",
		Subsystem: "intake",
		Name:      "parse_failures_total",
		Help:      "Total number of messages rejected as unparseable",
	})

	// AttachmentsStored counts attachment payloads uploaded to the blob
	// store.
	AttachmentsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsink",
		Subsystem: "intake",
		Name:      "attachments_stored_total",
		Help:      "Total number of attachment payloads uploaded",
	})

	// MessagesDeleted counts messages removed by the delete workflows.
	MessagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsink",
		Subsystem: "query",
		Name:      "messages_deleted_total",
		Help:      "Total number of messages deleted",
	})

	// EventsDropped counts notification batches dropped for slow
	// subscribers.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mailsink",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Total number of notification batches dropped for slow subscribers",
	})
)
