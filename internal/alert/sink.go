// Package alert delivers push notifications to an external webhook. Delivery
// is asynchronous so a slow or unreachable endpoint never stalls the
// telemetry loop.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vigil-data/breathwatch/internal/httputil"
	"github.com/vigil-data/breathwatch/internal/monitoring"
)

// DefaultQueueSize bounds the pending notification queue.
const DefaultQueueSize = 16

// DefaultRequestTimeout bounds each webhook POST.
const DefaultRequestTimeout = 10 * time.Second

// Sink posts alert messages to a webhook from a single worker goroutine.
// Notify never blocks; when the queue is full the message is dropped with a
// log line.
type Sink struct {
	url     string
	client  httputil.HTTPClient
	timeout time.Duration

	queue  chan string
	stop   chan struct{}
	doneCh chan struct{}
}

// SinkOptions tunes the sink. Zero values take defaults.
type SinkOptions struct {
	Client         httputil.HTTPClient
	QueueSize      int
	RequestTimeout time.Duration
}

// NewSink creates and starts a webhook sink. An empty URL returns nil, and a
// nil *Sink is a safe no-op.
func NewSink(url string, opts SinkOptions) *Sink {
	if url == "" {
		return nil
	}
	if opts.Client == nil {
		opts.Client = httputil.NewStandardClient(nil)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	s := &Sink{
		url:     url,
		client:  opts.Client,
		timeout: opts.RequestTimeout,
		queue:   make(chan string, opts.QueueSize),
		stop:    make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go s.worker()
	return s
}

// Notify queues a message for delivery. Safe on a nil sink.
func (s *Sink) Notify(message string) {
	if s == nil {
		return
	}
	select {
	case s.queue <- message:
	default:
		monitoring.Logf("[Alert] queue full, dropping notification: %s", message)
	}
}

// Close stops the worker after draining queued messages. Safe on a nil sink.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	close(s.stop)
	<-s.doneCh
}

func (s *Sink) worker() {
	defer close(s.doneCh)
	for {
		select {
		case msg := <-s.queue:
			s.deliver(msg)
		case <-s.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case msg := <-s.queue:
					s.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) deliver(message string) {
	body, err := json.Marshal(map[string]string{"alert": message})
	if err != nil {
		monitoring.Logf("[Alert] failed to encode notification: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		monitoring.Logf("[Alert] failed to build notification request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		monitoring.Logf("[Alert] notification delivery failed: %v", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		monitoring.Logf("[Alert] webhook returned %d", resp.StatusCode)
		return
	}
	monitoring.Logf("[Alert] notification delivered: %s", message)
}
