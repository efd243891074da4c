// Package notify posts acquisition lifecycle events to a webhook.  A
// Notifier POSTs a JSON run summary when a run finishes or is
// canceled, retrying with exponential backoff so a briefly unreachable
// endpoint does not lose the notification.  Handler composes a
// Notifier with any writer so hosts get notification for free.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/microscope-io/mdastore/mda"
)

// Event is the JSON body POSTed to the webhook.
type Event struct {
	// Status is "finished" or "canceled"
	Status string `json:"status"`

	// Frames is the number of frames the run delivered
	Frames int `json:"frames"`

	// Started and Ended bound the run in wall time
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`

	// Sequence is the sanitized acquisition plan
	Sequence *mda.Sequence `json:"useq_MDASequence,omitempty"`
}

// A Notifier delivers run events to one webhook URL.
type Notifier struct {
	URL string

	// Client defaults to http.DefaultClient
	Client *http.Client

	// MaxElapsed bounds total retry time; default 30s
	MaxElapsed time.Duration
}

// NewNotifier returns a notifier for url with default retry behavior.
func NewNotifier(url string) *Notifier {
	return &Notifier{URL: url}
}

// Post delivers one event, retrying transient failures.  HTTP 4xx
// responses are permanent and abort the retry loop.
func (n *Notifier) Post(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxElapsed := n.MaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 30 * time.Second
	}

	op := func() error {
		resp, err := client.Post(n.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("webhook rejected event: %s", resp.Status))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook unavailable: %s", resp.Status)
		}
		return nil
	}

	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Clock:               backoff.SystemClock})
}

// Handler wraps an inner handler, counting frames and posting an event
// after the run finalizes.  Notification happens after (and regardless
// of) the inner finalize so storage errors never suppress it, but an
// inner error still wins the return value.
type Handler struct {
	Inner    mda.Handler
	Notifier *Notifier

	seq     *mda.Sequence
	frames  int
	started time.Time
}

var _ mda.Handler = (*Handler)(nil)

// NewHandler wraps inner with notification to n.
func NewHandler(inner mda.Handler, n *Notifier) *Handler {
	return &Handler{Inner: inner, Notifier: n}
}

// SequenceStarted implements mda.Handler.
func (h *Handler) SequenceStarted(seq *mda.Sequence, meta mda.SummaryMeta) error {
	h.seq = seq
	h.frames = 0
	h.started = time.Now()
	return h.Inner.SequenceStarted(seq, meta)
}

// FrameReady implements mda.Handler.
func (h *Handler) FrameReady(frame mda.Frame, ev mda.Event, meta mda.FrameMeta) error {
	if err := h.Inner.FrameReady(frame, ev, meta); err != nil {
		return err
	}
	h.frames++
	return nil
}

// SequenceFinished implements mda.Handler.
func (h *Handler) SequenceFinished() error {
	return h.finish("finished", h.Inner.SequenceFinished)
}

// SequenceCanceled implements mda.Handler.
func (h *Handler) SequenceCanceled() error {
	return h.finish("canceled", h.Inner.SequenceCanceled)
}

func (h *Handler) finish(status string, inner func() error) error {
	innerErr := inner()
	ev := Event{
		Status:   status,
		Frames:   h.frames,
		Started:  h.started,
		Ended:    time.Now(),
		Sequence: mda.SanitizeSequence(h.seq),
	}
	postErr := h.Notifier.Post(ev)
	if innerErr != nil {
		return innerErr
	}
	return postErr
}
