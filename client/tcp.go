package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/axionml/inferlink/address"
	"github.com/axionml/inferlink/errors"
	"github.com/axionml/inferlink/modelparams"
	"github.com/axionml/inferlink/pipeline"
	"github.com/axionml/inferlink/pkg/retry"
	"github.com/axionml/inferlink/protocol"
)

// closeStreamWriteBudget bounds the end-of-stream marker write so closing
// a dead socket does not hang for the full connection timeout.
const closeStreamWriteBudget = 500 * time.Millisecond

// tcpStream is one open stream channel: the dedicated socket plus its
// receiver goroutine bookkeeping.
type tcpStream struct {
	conn       net.Conn
	recvMu     sync.Mutex
	recvActive bool
	recvWG     sync.WaitGroup
}

// tcpClient speaks the proprietary length-prefixed TCP protocol. A
// persistent command socket carries control exchanges; each open stream
// gets its own socket with one receiver goroutine.
type tcpClient struct {
	addr address.ServerAddress
	opts options
	pipe *pipeline.Pipeline

	cmdMu   sync.Mutex
	cmdConn net.Conn

	mu           sync.Mutex
	stream       *tcpStream
	userCallback bool
	closed       bool
}

var _ Client = (*tcpClient)(nil)

// newTCPClient connects the command socket and returns the client.
func newTCPClient(addr address.ServerAddress, o options) (*tcpClient, error) {
	c := &tcpClient{
		addr: addr,
		opts: o,
		pipe: pipeline.New(o.inferenceTimeout,
			pipeline.WithMetrics(o.metrics), pipeline.WithLogger(o.logger)),
	}

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.cmdConn = conn
	o.logger.Debug("connected to AI server", "address", addr.String())
	return c, nil
}

// dial connects to the server with up to 3 attempts, each bounded by the
// connection timeout. Hostnames resolve over IPv4.
func (c *tcpClient) dial() (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.opts.connectionTimeout}
	cfg := retry.DefaultConfig()

	conn, err := retryDial(cfg, func() (net.Conn, error) {
		cn, derr := dialer.Dial("tcp4", c.addr.HostPort())
		c.opts.metrics.ObserveConnect(derr == nil)
		return cn, derr
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindSystem,
			"error connecting to %s after %d attempts with timeout %v",
			c.addr.HostPort(), cfg.MaxAttempts, c.opts.connectionTimeout)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func retryDial(cfg retry.Config, dial func() (net.Conn, error)) (net.Conn, error) {
	var conn net.Conn
	err := retry.Do(context.Background(), cfg, func() error {
		cn, derr := dial()
		if derr != nil {
			return derr
		}
		conn = cn
		return nil
	})
	return conn, err
}

// transmitCommand sends one control request over the command socket and
// returns the parsed, validated response. source describes the operation
// initiator for error reports.
func (c *tcpClient) transmitCommand(source string, req map[string]any) (map[string]any, error) {
	op, _ := req["op"].(string)
	c.opts.metrics.ObserveControl(op)

	payload, err := protocol.PrepareRequest(req)
	if err != nil {
		return nil, err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.cmdConn == nil {
		return nil, errors.New(errors.KindIncorrectAPIUse, "client is closed")
	}

	deadline := time.Now().Add(c.opts.connectionTimeout)
	_ = c.cmdConn.SetDeadline(deadline)
	defer func() { _ = c.cmdConn.SetDeadline(time.Time{}) }()

	if err := protocol.WriteFrame(c.cmdConn, payload); err != nil {
		return nil, classify(err, errors.KindOperationFailed,
			fmt.Sprintf("%s: failed to send request to %s", source, c.addr))
	}

	respBytes, err := protocol.ReadFrame(c.cmdConn)
	if err != nil {
		if err == io.EOF {
			return nil, errors.Newf(errors.KindOperationFailed,
				"%s: connection to %s closed by server", source, c.addr)
		}
		return nil, classify(err, errors.KindOperationFailed,
			fmt.Sprintf("%s: failed to read response from %s", source, c.addr))
	}

	resp, err := protocol.ParseResponse(respBytes, source)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckVersion(resp, source); err != nil {
		return nil, err
	}
	if err := protocol.CheckResponse(resp, source); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *tcpClient) ModelZooList() ([]ModelInfo, error) {
	resp, err := c.transmitCommand("modelzooListGet", map[string]any{"op": protocol.OpModelZoo})
	if err != nil {
		return nil, err
	}

	entries, _ := resp[protocol.OpModelZoo].([]any)
	list := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		node, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := node["name"].(string)
		paramsText, _ := node["ModelParams"].(string)
		params, err := modelparams.FromJSON([]byte(paramsText))
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindParseError,
				"modelzooListGet: invalid parameters for model %q", name)
		}
		list = append(list, modelInfoFrom(name, params))
	}
	return list, nil
}

func (c *tcpClient) SystemInfo() (any, error) {
	resp, err := c.transmitCommand("systemInfo", map[string]any{"op": protocol.OpSystemInfo})
	if err != nil {
		return nil, err
	}
	return resp[protocol.OpSystemInfo], nil
}

func (c *tcpClient) TraceManage(req any) (any, error) {
	resp, err := c.transmitCommand("traceManage",
		map[string]any{"op": protocol.OpTraceManage, "args": req})
	if err != nil {
		return nil, err
	}
	return resp[protocol.OpTraceManage], nil
}

func (c *tcpClient) ZooManage(req any) (any, error) {
	resp, err := c.transmitCommand("modelZooManage",
		map[string]any{"op": protocol.OpZooManage, "args": req})
	if err != nil {
		return nil, err
	}
	return resp[protocol.OpZooManage], nil
}

func (c *tcpClient) DevCtrl(req any) (any, error) {
	resp, err := c.transmitCommand("devCtrl",
		map[string]any{"op": protocol.OpDevCtrl, "args": req})
	if err != nil {
		return nil, err
	}
	return resp[protocol.OpDevCtrl], nil
}

func (c *tcpClient) Ping(sleepMS float64, ignoreErrors bool) (bool, error) {
	_, err := c.transmitCommand("ping",
		map[string]any{"op": protocol.OpSleep, "sleep_time_ms": sleepMS})
	if err != nil {
		if ignoreErrors {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *tcpClient) LabelDictionary(modelName string) (any, error) {
	resp, err := c.transmitCommand("labelDictionary",
		map[string]any{"op": protocol.OpLabelDictionary, "name": modelName})
	if err != nil {
		return nil, err
	}
	return resp[protocol.OpLabelDictionary], nil
}

// Shutdown sends the shutdown command, then opens a fresh connection and
// sends a zero-byte frame to push the server past its accept loop.
// Errors from the epilogue are ignored.
func (c *tcpClient) Shutdown() error {
	if _, err := c.transmitCommand("shutdown", map[string]any{"op": protocol.OpShutdown}); err != nil {
		return err
	}

	if conn, err := c.dial(); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.connectionTimeout))
		_ = protocol.WriteFrame(conn, nil)
		_ = conn.Close()
	}
	return nil
}

// OpenStream opens a dedicated socket for the stream of frames used by
// subsequent Submit and Predict calls. The opening record carries the
// model name and, when the caller passes non-empty extra model
// parameters, those parameters with the inference timeout merged in as
// the device timeout; otherwise it carries no configuration.
func (c *tcpClient) OpenStream(modelName string, frameQueueDepth int, extraParams *modelparams.Params) error {
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

	req := map[string]any{"op": protocol.OpStream, "name": modelName}
	if extraParams != nil && len(extraParams.Document()) > 0 {
		merged := extraParams.Clone()
		merged.SetDeviceTimeoutMS(float64(c.opts.inferenceTimeout.Milliseconds()))
		req["config"] = merged.Document()
	}
	payload, err := protocol.PrepareRequest(req)
	if err != nil {
		return err
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.connectionTimeout))
	if err := protocol.WriteFrame(conn, payload); err != nil {
		_ = conn.Close()
		return classify(err, errors.KindOperationFailed,
			fmt.Sprintf("openStream: failed to send opening record to %s", c.addr))
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.pipe.Reset(frameQueueDepth)

	c.mu.Lock()
	c.stream = &tcpStream{conn: conn}
	c.mu.Unlock()
	c.opts.logger.Debug("stream opened", "model", modelName, "depth", frameQueueDepth)
	return nil
}

// CloseStream closes the stream socket after sending the end-of-stream
// marker. It is idempotent.
func (c *tcpClient) CloseStream() error {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s != nil {
		c.teardownStream(s)
	}
	return nil
}

// teardownStream sends the empty end-of-stream frame, closes the socket,
// and joins the receiver. Marker write errors are ignored: the socket may
// already be dead.
func (c *tcpClient) teardownStream(s *tcpStream) {
	c.pipe.RequestStop()

	budget := c.opts.connectionTimeout
	if budget > closeStreamWriteBudget {
		budget = closeStreamWriteBudget
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(budget))
	_ = protocol.WriteFrame(s.conn, nil)
	_ = s.conn.Close()
	s.recvWG.Wait()
}

func (c *tcpClient) InstallCallback(cb pipeline.Callback) error {
	if err := c.pipe.InstallCallback(cb); err != nil {
		return err
	}
	c.mu.Lock()
	c.userCallback = cb != nil
	c.mu.Unlock()
	return nil
}

// Submit sends one frame batch on the stream socket: every buffer of the
// batch goes out as its own frame, back to back, before any response is
// read. The first submission starts the receiver goroutine.
func (c *tcpClient) Submit(batch [][]byte, tag string) error {
	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s == nil {
		return errors.New(errors.KindIncorrectAPIUse, "stream is not opened")
	}

	err := c.pipe.Submit(tag, func() error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(c.opts.inferenceTimeout))
		for _, buf := range batch {
			if werr := protocol.WriteFrame(s.conn, buf); werr != nil {
				return classify(werr, errors.KindOperationFailed,
					fmt.Sprintf("failed to send frame to %s", c.addr))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.ensureReceiver(s)
	return nil
}

// ensureReceiver starts the receiver goroutine for the stream if it is
// not running.
func (c *tcpClient) ensureReceiver(s *tcpStream) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	if s.recvActive {
		return
	}
	s.recvActive = true
	s.recvWG.Add(1)
	go c.receiveLoop(s)
}

// receiveLoop reads framed responses while frames are outstanding,
// decodes them, and drives the pipeline. It exits when the pipeline
// drains after a stop request or fails. The exit decision is re-checked
// under the receiver lock so a racing Submit either sees the running
// receiver or starts a fresh one.
func (c *tcpClient) receiveLoop(s *tcpStream) {
	defer s.recvWG.Done()
	for {
		if !c.pipe.AwaitWork() {
			s.recvMu.Lock()
			if !c.pipe.ShouldReceive() {
				s.recvActive = false
				s.recvMu.Unlock()
				return
			}
			s.recvMu.Unlock()
			continue
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(c.opts.inferenceTimeout))
		payload, err := protocol.ReadFrame(s.conn)
		if err != nil {
			if isNetTimeout(err) {
				c.pipe.Fail(fmt.Sprintf("timeout %v waiting for response from AI server %s",
					c.opts.inferenceTimeout, c.addr))
			} else {
				c.pipe.Fail(fmt.Sprintf("error receiving response from AI server %s: %v", c.addr, err))
			}
			continue
		}
		if len(payload) == 0 {
			c.pipe.Fail(fmt.Sprintf("AI server %s closed the stream", c.addr))
			continue
		}

		result, err := protocol.DecodeResult(payload)
		if err != nil {
			c.pipe.Fail(err.Error())
			continue
		}
		c.pipe.HandleResult(result, protocol.ResponseError(result))
	}
}

// Finish finalizes the sequence of frames: the receiver drains all
// outstanding results, then stops.
func (c *tcpClient) Finish() {
	c.pipe.RequestStop()
	c.pipe.AwaitDrain()

	c.mu.Lock()
	s := c.stream
	c.mu.Unlock()
	if s != nil {
		s.recvWG.Wait()
	}
}

func (c *tcpClient) Predict(batch [][]byte) (any, error) {
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

func (c *tcpClient) Outstanding() int {
	return c.pipe.Outstanding()
}

func (c *tcpClient) LastError() string {
	return c.pipe.LastError()
}

// Close finishes any streaming session, closes the stream and command
// sockets, and swallows all errors.
func (c *tcpClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Finish()
	_ = c.CloseStream()

	c.cmdMu.Lock()
	if c.cmdConn != nil {
		_ = c.cmdConn.Close()
		c.cmdConn = nil
	}
	c.cmdMu.Unlock()
	return nil
}
