package mqtt

import "fmt"

// RequestHandler receives one request published to sqlbridge/request/{id}.
// It runs on a paho goroutine; a returned error is logged.
type RequestHandler func(id string, payload []byte) error

// ServeRequests subscribes to every request topic and hands each message
// to h with the ID taken from its topic. Messages on a malformed topic are
// dropped with a logged ErrInvalidID.
func (c *Client) ServeRequests(h RequestHandler) error {
	if h == nil {
		return fmt.Errorf("%w: nil request handler", ErrSubscribeFailed)
	}
	c.mu.RLock()
	_, serving := c.routes[requestFilter]
	c.mu.RUnlock()
	if serving {
		return ErrAlreadyServing
	}
	return c.subscribe(requestFilter, requestRoute(h))
}

// StopRequests drops the request subscription. The route is forgotten
// even when the broker cannot be told, so a reconnect does not restore it.
func (c *Client) StopRequests() error {
	return c.unsubscribe(requestFilter)
}

// PublishResponse publishes the answer to request id.
func (c *Client) PublishResponse(id string, payload []byte) error {
	if !validSegment(id) {
		return fmt.Errorf("%w: request id %q", ErrInvalidID, id)
	}
	return c.send(responseTopic(id), payload, false)
}

// PublishEvent publishes payload to sqlbridge/event/{kind}.
func (c *Client) PublishEvent(kind string, payload []byte) error {
	if !validSegment(kind) {
		return fmt.Errorf("%w: event type %q", ErrInvalidID, kind)
	}
	return c.send(eventTopic(kind), payload, false)
}

// PublishRequest publishes a request for a bridge to run.
func (c *Client) PublishRequest(id string, payload []byte) error {
	if !validSegment(id) {
		return fmt.Errorf("%w: request id %q", ErrInvalidID, id)
	}
	return c.send(requestTopic(id), payload, false)
}

// AwaitResponse subscribes to the response topic of id before the request
// is sent. Each response payload is handed to h. The returned stop func
// unsubscribes.
func (c *Client) AwaitResponse(id string, h func(payload []byte)) (stop func() error, err error) {
	if !validSegment(id) {
		return nil, fmt.Errorf("%w: request id %q", ErrInvalidID, id)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil response handler", ErrSubscribeFailed)
	}
	topic := responseTopic(id)
	if err := c.subscribe(topic, func(_ string, payload []byte) error {
		h(payload)
		return nil
	}); err != nil {
		return nil, err
	}
	return func() error { return c.unsubscribe(topic) }, nil
}

// requestRoute adapts h to a subscription handler on requestFilter.
func requestRoute(h RequestHandler) handler {
	return func(topic string, payload []byte) error {
		id, ok := requestID(topic)
		if !ok {
			return fmt.Errorf("%w: request topic %q", ErrInvalidID, topic)
		}
		return h(id, payload)
	}
}

// send publishes one message with the client's QoS.
func (c *Client) send(topic string, payload []byte, retained bool) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, maximum is %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(c.paho.Publish(topic, c.qos, retained, payload), ackTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// subscribe records a route and subscribes to it. The route is dropped
// again if the broker does not accept it.
func (c *Client) subscribe(topic string, h handler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = h
	c.mu.Unlock()

	if err := wait(c.paho.Subscribe(topic, c.qos, c.deliver(h)), ackTimeout); err != nil {
		c.mu.Lock()
		delete(c.routes, topic)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// unsubscribe forgets the route, then tells the broker.
func (c *Client) unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.routes, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(c.paho.Unsubscribe(topic), ackTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}
