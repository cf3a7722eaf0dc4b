package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/axionml/inferlink/address"
	"github.com/axionml/inferlink/errors"
	"github.com/axionml/inferlink/modelparams"
	"github.com/axionml/inferlink/pipeline"
	"github.com/axionml/inferlink/protocol"
)

// wsStream is one open WebSocket data channel: the connection, the write
// serialization lock, and the read pump bookkeeping.
type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closing atomic.Bool
	recvWG  sync.WaitGroup
}

// httpClient speaks the HTTP control surface with a WebSocket data
// channel. Control commands map to REST paths under /v1; the stream
// channel is a WebSocket at /v1/stream with one poll-and-dispatch
// receiver goroutine.
type httpClient struct {
	addr    address.ServerAddress
	opts    options
	pipe    *pipeline.Pipeline
	hc      *http.Client
	baseURL string

	mu           sync.Mutex
	stream       *wsStream
	userCallback bool
	closed       bool
}

var _ Client = (*httpClient)(nil)

// dialIPv4 resolves hostnames over IPv4 only, like the TCP transport.
func dialIPv4(ctx context.Context, _, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp4", addr)
}

// newHTTPClient builds the client. No connection is made until the first
// control request or stream open.
func newHTTPClient(addr address.ServerAddress, o options) *httpClient {
	return &httpClient{
		addr: addr,
		opts: o,
		pipe: pipeline.New(o.inferenceTimeout,
			pipeline.WithMetrics(o.metrics), pipeline.WithLogger(o.logger)),
		hc: &http.Client{
			Timeout:   o.connectionTimeout,
			Transport: &http.Transport{DialContext: dialIPv4},
		},
		baseURL: "http://" + addr.HostPort(),
	}
}

// httpRequest performs one control request and returns the response body.
// HTTP statuses outside the 2xx range fail with OperationFailed.
func (c *httpClient) httpRequest(method, path string, body any) ([]byte, error) {
	c.opts.metrics.ObserveControl(path)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindParseError, "failed to encode request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindBadParameter, "invalid HTTP request %q", path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classify(err, errors.KindOperationFailed,
			fmt.Sprintf("error sending HTTP request %q to %s", path, c.addr))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err, errors.KindOperationFailed,
			fmt.Sprintf("error reading HTTP response for %q from %s", path, c.addr))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.KindOperationFailed,
			"error sending HTTP request %q to %s: %s (%d) %s",
			path, c.addr, resp.Status, resp.StatusCode, data)
	}
	return data, nil
}

func (c *httpClient) getJSON(path string) (any, error) {
	data, err := c.httpRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data, path)
}

func (c *httpClient) postJSON(path string, body any) (any, error) {
	data, err := c.httpRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeJSON(data, path)
}

func decodeJSON(data []byte, path string) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, errors.KindParseError,
			"invalid JSON in response for %q", path)
	}
	return doc, nil
}

// ModelZooList enumerates the model zoo. The HTTP surface returns one
// JSON object keyed by model name; entries come back sorted by name.
func (c *httpClient) ModelZooList() ([]ModelInfo, error) {
	doc, err := c.getJSON("/v1/modelzoo")
	if err != nil {
		return nil, err
	}
	zoo, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New(errors.KindParseError, "modelzoo response is not an object")
	}

	names := make([]string, 0, len(zoo))
	for name := range zoo {
		names = append(names, name)
	}
	sort.Strings(names)

	list := make([]ModelInfo, 0, len(names))
	for _, name := range names {
		node, ok := zoo[name].(map[string]any)
		if !ok {
			continue
		}
		list = append(list, modelInfoFrom(name, modelparams.FromDocument(node)))
	}
	return list, nil
}

func (c *httpClient) SystemInfo() (any, error) {
	return c.getJSON("/v1/system_info")
}

func (c *httpClient) TraceManage(req any) (any, error) {
	return c.postJSON("/v1/trace_manage", req)
}

func (c *httpClient) ZooManage(req any) (any, error) {
	return c.postJSON("/v1/zoo_manage", req)
}

func (c *httpClient) DevCtrl(req any) (any, error) {
	return c.postJSON("/v1/dev_ctrl", req)
}

func (c *httpClient) Ping(sleepMS float64, ignoreErrors bool) (bool, error) {
	_, err := c.postJSON("/v1/sleep/"+strconv.FormatFloat(sleepMS, 'f', -1, 64), nil)
	if err != nil {
		if ignoreErrors {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *httpClient) LabelDictionary(modelName string) (any, error) {
	return c.getJSON("/v1/label_dictionary/" + url.PathEscape(modelName))
}

// Shutdown pings the server first so an unreachable server still fails
// loudly, then posts the shutdown command ignoring errors: the server may
// stop before the reply is sent.
func (c *httpClient) Shutdown() error {
	if _, err := c.postJSON("/v1/sleep/0", nil); err != nil {
		return err
	}
	_, _ = c.postJSON("/v1/shutdown", nil)
	return nil
}

// OpenStream dials the WebSocket data channel, sends the configuration
// record as the first text frame, and checks the acknowledgement. A
// `success: false` acknowledgement aborts the open.
func (c *httpClient) OpenStream(modelName string, frameQueueDepth int, extraParams *modelparams.Params) error {
	if frameQueueDepth < 1 {
		return errors.New(errors.KindBadParameter, "frame queue depth must be at least 1")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.KindIncorrectAPIUse, "client is closed")
	}
	prev := c.stream
	c.stream = nil
	c.mu.Unlock()
	if prev != nil {
		c.teardownStream(prev)
	}

	wsURL := "ws://" + c.addr.HostPort() + "/v1/stream"
	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.connectionTimeout,
		NetDialContext:   dialIPv4,
	}
	header := http.Header{}
	if c.opts.token != "" {
		header.Set("Authorization", "Bearer "+c.opts.token)
	}

	conn, resp, err := dialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.opts.metrics.ObserveConnect(false)
		return classify(err, errors.KindOperationFailed,
			fmt.Sprintf("error connecting to WebSocket server at %s", wsURL))
	}
	c.opts.metrics.ObserveConnect(true)

	config := map[string]any{}
	if extraParams != nil {
		config = extraParams.Clone().Document()
	}
	record, err := json.Marshal(map[string]any{"name": modelName, "config": config})
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, errors.KindParseError, "failed to encode stream configuration")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.connectionTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, record); err != nil {
		_ = conn.Close()
		return classify(err, errors.KindOperationFailed,
			fmt.Sprintf("failed to send stream configuration to %s", wsURL))
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.connectionTimeout))
	_, ack, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return classify(err, errors.KindOperationFailed,
			fmt.Sprintf("failed to read stream acknowledgement from %s", wsURL))
	}
	_ = conn.SetReadDeadline(time.Time{})

	ackDoc, err := decodeJSON(ack, "/v1/stream")
	if err != nil {
		_ = conn.Close()
		return err
	}
	source := fmt.Sprintf("error configuring model %s on AI server %s", modelName, c.addr)
	if ackObj, ok := ackDoc.(map[string]any); ok {
		if cerr := protocol.CheckResponse(ackObj, source); cerr != nil {
			_ = conn.Close()
			return cerr
		}
	}

	c.pipe.Reset(frameQueueDepth)

	s := &wsStream{conn: conn}
	s.recvWG.Add(1)
	go c.readPump(s)

	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
	c.opts.logger.Debug("stream opened", "model", modelName, "depth", frameQueueDepth)
	return nil
}

// readPump dispatches binary result frames to the pipeline until the
// connection closes. Transport errors fail the pipeline unless the close
// was requested locally or the server closed the connection with a
// normal or going-away close frame.
func (c *httpClient) readPump(s *wsStream) {
	defer s.recvWG.Done()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.pipe.Fail(fmt.Sprintf("websocket error communicating with %s: %v", c.addr, err))
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		result, derr := protocol.DecodeResult(data)
		if derr != nil {
			c.pipe.Fail(derr.Error())
			return
		}
		c.pipe.HandleResult(result, protocol.ResponseError(result))
	}
}

// CloseStream closes the WebSocket data channel and joins the read pump.
// It is idempotent.
func (c *httpClient) CloseStream() error {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s != nil {
		c.teardownStream(s)
	}
	return nil
}

func (c *httpClient) teardownStream(s *wsStream) {
	c.pipe.RequestStop()
	s.closing.Store(true)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeStreamWriteBudget))
	s.writeMu.Unlock()

	_ = s.conn.Close()
	s.recvWG.Wait()
}

func (c *httpClient) InstallCallback(cb pipeline.Callback) error {
	if err := c.pipe.InstallCallback(cb); err != nil {
		return err
	}
	c.mu.Lock()
	c.userCallback = cb != nil
	c.mu.Unlock()
	return nil
}

// Submit sends one frame batch on the data channel: every buffer of the
// batch goes out as its own binary frame, back to back.
func (c *httpClient) Submit(batch [][]byte, tag string) error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return errors.New(errors.KindIncorrectAPIUse, "stream is not opened")
	}

	return c.pipe.Submit(tag, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(c.opts.inferenceTimeout))
		for _, buf := range batch {
			if werr := s.conn.WriteMessage(websocket.BinaryMessage, buf); werr != nil {
				return classify(werr, errors.KindOperationFailed,
					fmt.Sprintf("failed to send frame to %s", c.addr))
			}
		}
		return nil
	})
}

// Finish finalizes the sequence of frames: it waits until the read pump
// drains all outstanding results or an error is set.
func (c *httpClient) Finish() {
	c.pipe.RequestStop()
	c.pipe.AwaitDrain()
}

func (c *httpClient) Predict(batch [][]byte) (any, error) {
	c.mu.Lock()
	streaming := c.userCallback
	c.mu.Unlock()
	if streaming {
		return nil, errors.New(errors.KindIncorrectAPIUse,
			"cannot perform single-frame inference: client was configured for streaming inference")
	}
	return runSingleShot(c.pipe,
		func() error { return c.Submit(batch, "") },
		c.Finish)
}

func (c *httpClient) Outstanding() int {
	return c.pipe.Outstanding()
}

func (c *httpClient) LastError() string {
	return c.pipe.LastError()
}

// Close finishes any streaming session and closes the data channel,
// swallowing all errors.
func (c *httpClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Finish()
	_ = c.CloseStream()
	c.hc.CloseIdleConnections()
	return nil
}
