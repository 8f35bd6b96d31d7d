package adapter

import (
	"context"
	"sync"
)

// Delivery is one call recorded by a Recorder.
type Delivery struct {
	Kind      string         `json:"kind"`
	ChatID    string         `json:"chat_id"`
	Text      string         `json:"text,omitempty"`
	MediaType string         `json:"media_type,omitempty"`
	URL       string         `json:"url,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Recorder keeps every delivery in memory. FailWith makes the next n calls
// fail.
type Recorder struct {
	platform string

	mu         sync.Mutex
	deliveries []Delivery
	failErr    error
	failLeft   int
}

// NewRecorder creates a recorder for platform.
func NewRecorder(platform string) *Recorder {
	return &Recorder{platform: platform}
}

func (r *Recorder) Platform() string { return r.platform }

// FailWith makes the next n sends return err. n < 0 fails forever.
func (r *Recorder) FailWith(err error, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failErr = err
	r.failLeft = n
}

func (r *Recorder) SendMessage(_ context.Context, chatID, text string, opts map[string]any) error {
	return r.record(Delivery{Kind: "message", ChatID: chatID, Text: text, Options: opts})
}

func (r *Recorder) SendMedia(_ context.Context, chatID, mediaType, url string, opts map[string]any) error {
	return r.record(Delivery{Kind: "media", ChatID: chatID, MediaType: mediaType, URL: url, Options: opts})
}

func (r *Recorder) record(d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil && r.failLeft != 0 {
		if r.failLeft > 0 {
			r.failLeft--
		}
		return r.failErr
	}
	r.deliveries = append(r.deliveries, d)
	return nil
}

// Deliveries returns a copy of everything delivered so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Texts returns the text of each delivered message.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.deliveries {
		if d.Kind == "message" {
			out = append(out, d.Text)
		}
	}
	return out
}

// Reset drops recorded deliveries and any pending failure.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
	r.failErr = nil
	r.failLeft = 0
}

var _ Messenger = (*Recorder)(nil)
