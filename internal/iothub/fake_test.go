package iothub_test

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	payload []byte
}

// fakeBroker stands in for a paho client. twinStatus is the status code
// answered to reported property patches; zero means no answer.
type fakeBroker struct {
	mu         sync.Mutex
	opts       *mqtt.ClientOptions
	connectErr error
	open       bool
	twinStatus int
	subs       map[string]mqtt.MessageHandler
	published  []published
}

func (b *fakeBroker) factory(opts *mqtt.ClientOptions) mqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = opts
	b.subs = map[string]mqtt.MessageHandler{}
	return b
}

func (b *fakeBroker) IsConnected() bool { return b.IsConnectionOpen() }

func (b *fakeBroker) IsConnectionOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = b.connectErr == nil
	return doneToken(b.connectErr)
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	b.published = append(b.published, published{topic: topic, payload: payload.([]byte)})
	status := b.twinStatus
	twin := b.subs["$iothub/twin/res/#"]
	b.mu.Unlock()

	if rid, ok := cutRID(topic); ok && status != 0 && twin != nil {
		twin(b, fakeMessage{topic: "$iothub/twin/res/" + itoa(status) + "/?$rid=" + rid + "&$version=7"})
	}
	return doneToken(nil)
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = callback
	return doneToken(nil)
}

func (b *fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken(nil)
}

func (b *fakeBroker) Unsubscribe(...string) mqtt.Token          { return doneToken(nil) }
func (b *fakeBroker) AddRoute(string, mqtt.MessageHandler)      {}
func (b *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	var h mqtt.MessageHandler
	for filter, handler := range b.subs {
		if filter != "$iothub/twin/res/#" {
			h = handler
		}
	}
	b.mu.Unlock()
	h(b, fakeMessage{topic: topic, payload: payload})
}

func (b *fakeBroker) publishedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.published {
		out = append(out, p.topic)
	}
	return out
}
