package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is a JSON-RPC subscription client over a websocket connection.
// It matches request ids to responses, dispatches subscription
// notifications to callbacks, and reconnects with resubscription when
// the connection drops.
type Client struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn *websocket.Conn

	connMu  sync.Mutex
	writeMu sync.Mutex

	nextID uint64

	// Pending request id -> response channel
	pending   map[uint64]chan json.RawMessage
	pendingMu sync.Mutex

	// Active subscription id -> notification callback
	subs   map[uint64]func(json.RawMessage)
	subsMu sync.RWMutex

	// method + params of live subscriptions, replayed after reconnect
	resubs   map[uint64]subRequest
	resubsMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}
}

type subRequest struct {
	method   string
	params   []interface{}
	callback func(json.RawMessage)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcMessage struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Params *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

// NewClient creates a websocket subscription client. reconnectDelay is the
// initial reconnect backoff and pingInterval the keepalive period; zero
// values fall back to 1 s and 30 s.
func NewClient(url string, reconnectDelay, pingInterval time.Duration) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		pending:        make(map[uint64]chan json.RawMessage),
		subs:           make(map[uint64]func(json.RawMessage)),
		resubs:         make(map[uint64]subRequest),
		done:           make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the read and ping loops
func (c *Client) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	log.Info().Str("url", c.url).Msg("websocket connected")
	return nil
}

// Close shuts the connection down and stops reconnection
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("websocket read failed, reconnecting")
			c.reconnect()
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("unparseable websocket message")
			continue
		}

		if msg.Params != nil {
			c.subsMu.RLock()
			cb, ok := c.subs[msg.Params.Subscription]
			c.subsMu.RUnlock()
			if ok {
				// Each callback runs on its own goroutine so a slow
				// consumer never stalls other subscriptions or pending
				// request responses.
				go cb(msg.Params.Result)
			}
			continue
		}

		if msg.ID != 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if ok {
				if msg.Error != nil {
					errJSON, _ := json.Marshal(msg.Error)
					ch <- errJSON
				} else {
					ch <- msg.Result
				}
			}
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect redials with backoff and replays live subscriptions
func (c *Client) reconnect() {
	backoff := c.reconnectDelay
	for {
		if c.closed.Load() {
			return
		}

		time.Sleep(backoff)
		if backoff < 30*time.Second {
			backoff *= 2
		}

		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket reconnect failed")
			continue
		}

		c.resubsMu.Lock()
		old := c.resubs
		c.resubs = make(map[uint64]subRequest)
		c.resubsMu.Unlock()

		c.subsMu.Lock()
		c.subs = make(map[uint64]func(json.RawMessage))
		c.subsMu.Unlock()

		for _, sub := range old {
			if _, err := c.subscribe(sub.method, sub.params, sub.callback); err != nil {
				log.Error().Err(err).Str("method", sub.method).Msg("resubscribe failed")
			}
		}
		return
	}
}

// call issues a request and waits for the matching response
func (c *Client) call(method string, params []interface{}) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	ch := make(chan json.RawMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case result := <-ch:
		return result, nil
	case <-time.After(15 * time.Second):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: response timeout", method)
	case <-c.done:
		return nil, fmt.Errorf("client closed")
	}
}

func (c *Client) subscribe(method string, params []interface{}, callback func(json.RawMessage)) (uint64, error) {
	result, err := c.call(method, params)
	if err != nil {
		return 0, err
	}

	var subID uint64
	if err := json.Unmarshal(result, &subID); err != nil {
		return 0, fmt.Errorf("%s: unexpected result %s", method, string(result))
	}

	c.subsMu.Lock()
	c.subs[subID] = callback
	c.subsMu.Unlock()

	c.resubsMu.Lock()
	c.resubs[subID] = subRequest{method: method, params: params, callback: callback}
	c.resubsMu.Unlock()

	return subID, nil
}

// AccountSubscribe subscribes to account data changes
func (c *Client) AccountSubscribe(address string, callback func(json.RawMessage)) (uint64, error) {
	return c.subscribe("accountSubscribe", []interface{}{
		address,
		map[string]interface{}{"encoding": "jsonParsed", "commitment": "confirmed"},
	}, callback)
}

// SignatureSubscribe subscribes to a transaction signature's confirmation
func (c *Client) SignatureSubscribe(signature string, callback func(json.RawMessage)) (uint64, error) {
	return c.subscribe("signatureSubscribe", []interface{}{
		signature,
		map[string]interface{}{"commitment": "confirmed"},
	}, callback)
}

// LogsSubscribe subscribes to transaction logs mentioning the given address
func (c *Client) LogsSubscribe(address string, callback func(json.RawMessage)) (uint64, error) {
	return c.subscribe("logsSubscribe", []interface{}{
		map[string]interface{}{"mentions": []string{address}},
		map[string]interface{}{"commitment": "confirmed"},
	}, callback)
}

// Unsubscribe removes the subscription server-side and drops the callback
func (c *Client) Unsubscribe(method string, subID uint64) error {
	c.subsMu.Lock()
	delete(c.subs, subID)
	c.subsMu.Unlock()

	c.resubsMu.Lock()
	delete(c.resubs, subID)
	c.resubsMu.Unlock()

	_, err := c.call(method, []interface{}{subID})
	return err
}
