package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Dispatcher sends events to registered subscribers asynchronously through a
// background worker pool, so slow webhook targets never block campaign
// processing.
type Dispatcher struct {
	registry   *Registry
	httpClient *http.Client
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup
}

var _ Emitter = (*Dispatcher)(nil)

type deliveryJob struct {
	subscriber *Subscription
	event      *Event
	attempt    int
}

// NewDispatcher creates a dispatcher with the given worker count and queue
// capacity.
func NewDispatcher(registry *Registry, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	d := &Dispatcher{
		registry: registry,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue:  make(chan *deliveryJob, queueSize),
		logger: log.New(log.Writer(), "[Notify:Dispatch] ", log.LstdFlags),
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit queues an event for all subscribers of the event type.
func (d *Dispatcher) Emit(eventType EventType, campaignID string, data map[string]interface{}) {
	subscribers := d.registry.Subscribers(eventType)
	if len(subscribers) == 0 {
		return
	}

	event := &Event{
		ID:         fmt.Sprintf("evt-%d", time.Now().UnixNano()),
		Type:       eventType,
		Source:     "/api/v1/campaigns",
		Timestamp:  time.Now(),
		CampaignID: campaignID,
		Data:       data,
	}

	for _, sub := range subscribers {
		select {
		case d.queue <- &deliveryJob{subscriber: sub, event: event, attempt: 1}:
		default:
			d.logger.Printf("Queue full, dropping event %s for %s", event.ID, sub.ID)
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	payload, err := json.Marshal(job.event)
	if err != nil {
		d.logger.Printf("Failed to marshal event: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, job.subscriber.URL, bytes.NewReader(payload))
	if err != nil {
		d.logger.Printf("Failed to create request: %v", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Zabvenie-Event-Type", string(job.event.Type))
	req.Header.Set("X-Zabvenie-Event-ID", job.event.ID)
	req.Header.Set("X-Zabvenie-Delivery-Attempt", fmt.Sprintf("%d", job.attempt))

	if job.subscriber.Secret != "" {
		sig := SignPayload(payload, job.subscriber.Secret)
		req.Header.Set("X-Zabvenie-Signature", "sha256="+sig)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Printf("Delivery failed: %s -> %v", job.subscriber.URL, err)
		d.registry.MarkFailed(job.subscriber.ID)

		// Up to 3 attempts with quadratic backoff.
		if job.attempt < 3 {
			time.Sleep(time.Duration(job.attempt*job.attempt) * time.Second)
			job.attempt++
			select {
			case d.queue <- job:
			default:
			}
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.logger.Printf("Webhook returned %d: %s -> %s", resp.StatusCode, job.subscriber.URL, job.event.Type)
		d.registry.MarkFailed(job.subscriber.ID)
	} else {
		d.logger.Printf("Delivered %s -> %s (%s)", job.event.Type, job.subscriber.URL, job.event.ID)
	}
}

// Shutdown drains the queue and stops the workers.
func (d *Dispatcher) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
