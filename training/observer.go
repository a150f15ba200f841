package training

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// Event describes one training step or one finished epoch.
type Event struct {
	Type         string    `json:"type"` // "step" or "epoch"
	RunID        string    `json:"run_id"`
	Strategy     string    `json:"strategy"`
	Epoch        uint64    `json:"epoch"`
	Step         uint64    `json:"step"`
	Level        int       `json:"level"`
	Loss         float64   `json:"loss"`
	Accuracy     float64   `json:"accuracy,omitempty"`
	LearningRate float64   `json:"learning_rate,omitempty"`
	Correct      bool      `json:"correct,omitempty"`
	Time         time.Time `json:"time"`
}

// Observer receives training events. Implementations must not block.
type Observer interface {
	OnStep(event Event)
	OnEpoch(event Event)
}

// =============================================================================
// Observer Implementations
// =============================================================================

// LogObserver writes events through logrus. Steps are logged at debug level.
type LogObserver struct {
	Log *logrus.Entry
}

func NewLogObserver(logger *logrus.Logger) *LogObserver {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogObserver{Log: logrus.NewEntry(logger)}
}

func (o *LogObserver) OnStep(event Event) {
	o.Log.WithFields(logrus.Fields{
		"strategy": event.Strategy,
		"step":     event.Step,
		"loss":     event.Loss,
		"lr":       event.LearningRate,
		"correct":  event.Correct,
	}).Debug("step")
}

func (o *LogObserver) OnEpoch(event Event) {
	o.Log.WithFields(logrus.Fields{
		"strategy": event.Strategy,
		"epoch":    event.Epoch,
		"level":    event.Level,
		"loss":     event.Loss,
		"accuracy": event.Accuracy,
	}).Info("epoch")
}

// HTTPObserver posts events as JSON to an endpoint (for dashboards)
type HTTPObserver struct {
	URL    string
	client *http.Client
}

func NewHTTPObserver(url string) *HTTPObserver {
	return &HTTPObserver{
		URL: url,
		client: &http.Client{
			Timeout: 100 * time.Millisecond, // Fast timeout to not block training
		},
	}
}

func (o *HTTPObserver) OnStep(event Event)  { o.send(event) }
func (o *HTTPObserver) OnEpoch(event Event) { o.send(event) }

func (o *HTTPObserver) send(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	// Fire and forget
	go func() {
		resp, err := o.client.Post(o.URL, "application/json", bytes.NewReader(data))
		if err == nil && resp != nil {
			resp.Body.Close()
		}
	}()
}

// ChannelObserver sends events to a Go channel (for internal processing)
type ChannelObserver struct {
	Events chan Event
}

func NewChannelObserver(bufferSize int) *ChannelObserver {
	return &ChannelObserver{
		Events: make(chan Event, bufferSize),
	}
}

func (o *ChannelObserver) OnStep(event Event)  { o.send(event) }
func (o *ChannelObserver) OnEpoch(event Event) { o.send(event) }

func (o *ChannelObserver) send(event Event) {
	select {
	case o.Events <- event:
	default:
		// Channel full, drop event to avoid blocking
	}
}

// WebSocketObserver streams events as JSON text frames over one websocket
// connection. Events queue in a buffer drained by a single writer goroutine;
// when the buffer is full new events are dropped.
type WebSocketObserver struct {
	conn  *websocket.Conn
	queue chan Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// DialWebSocketObserver connects to a dashboard at url (ws:// or wss://).
func DialWebSocketObserver(url, origin string, bufferSize int) (*WebSocketObserver, error) {
	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	o := &WebSocketObserver{
		conn:  conn,
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
	}
	go o.writeLoop()
	return o, nil
}

func (o *WebSocketObserver) writeLoop() {
	defer close(o.done)
	for event := range o.queue {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := websocket.Message.Send(o.conn, string(data)); err != nil {
			// Connection gone, drain so Close does not hang
			for range o.queue {
			}
			return
		}
	}
}

func (o *WebSocketObserver) OnStep(event Event)  { o.send(event) }
func (o *WebSocketObserver) OnEpoch(event Event) { o.send(event) }

func (o *WebSocketObserver) send(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- event:
	default:
	}
}

// Close flushes queued events and closes the connection.
func (o *WebSocketObserver) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	<-o.done
	return o.conn.Close()
}
