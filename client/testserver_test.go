package client

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axionml/inferlink/protocol"
)

// fakeServerConfig tunes the in-process AI server used by the TCP tests.
type fakeServerConfig struct {
	replyDelay     time.Duration     // delay before each stream reply
	errorAtFrame   int               // reply with an error document at this frame index
	errorMsg       string            // message for errorAtFrame
	errorOnce      bool              // apply errorAtFrame only on the first stream connection
	omitVersion    bool              // drop the VERSION tag from control responses
	silentStream   bool              // never reply on the stream channel
	framesPerBatch int               // physical frames per logical batch (default 1)
	failOps        map[string]string // op -> error message for failing control responses
	labelDict      map[string]any    // label_dictionary payload
	zooParams      map[string]string // model name -> parameters JSON text
}

func defaultServerConfig() fakeServerConfig {
	return fakeServerConfig{
		errorAtFrame: -1,
		labelDict:    map[string]any{"0": "cat", "1": "dog"},
		zooParams: map[string]string{
			"mobilenet": `{
				"DEVICE": [{"DeviceType": "ORCA", "RuntimeAgent": "N2X"}],
				"PRE_PROCESS": [{"InputType": "Image", "InputN": 1, "InputH": 224, "InputW": 224, "InputC": 3}],
				"MODEL_PARAMETERS": [{"ModelPath": "mobilenet.n2x", "ModelQuantized": true}]
			}`,
		},
	}
}

// fakeServer speaks the proprietary length-prefixed protocol well enough
// to exercise the client: framed JSON control exchanges and a stream
// channel answering every frame batch with one MessagePack document.
type fakeServer struct {
	t   *testing.T
	cfg fakeServerConfig
	ln  net.Listener
	g   errgroup.Group

	mu               sync.Mutex
	conns            []net.Conn
	streams          int
	shutdownReceived bool
}

func startFakeServer(t *testing.T, cfg fakeServerConfig) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fake server listen: %v", err)
	}
	s := &fakeServer{t: t, cfg: cfg, ln: ln}
	s.g.Go(s.acceptLoop)
	t.Cleanup(s.stop)
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeServer) stop() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	_ = s.g.Wait()
}

func (s *fakeServer) gotShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownReceived
}

func (s *fakeServer) acceptLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return nil
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.g.Go(func() error {
			s.handleConn(conn)
			return nil
		})
	}
}

func (s *fakeServer) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil || len(payload) == 0 {
			return
		}
		var req map[string]any
		if json.Unmarshal(payload, &req) != nil {
			return
		}
		op, _ := req["op"].(string)
		if op == protocol.OpStream {
			s.handleStream(conn)
			return
		}
		if !s.handleCommand(conn, op, req) {
			return
		}
	}
}

func (s *fakeServer) handleCommand(conn net.Conn, op string, req map[string]any) bool {
	resp := map[string]any{"success": true}
	if !s.cfg.omitVersion {
		resp[protocol.VersionTag] = protocol.CurrentVersion
	}

	if msg, ok := s.cfg.failOps[op]; ok {
		resp["success"] = false
		resp["msg"] = msg
	} else {
		switch op {
		case protocol.OpModelZoo:
			var zoo []any
			for name, params := range s.cfg.zooParams {
				zoo = append(zoo, map[string]any{"name": name, "ModelParams": params})
			}
			resp[protocol.OpModelZoo] = zoo
		case protocol.OpSleep:
			if ms, ok := req["sleep_time_ms"].(float64); ok && ms > 0 {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case protocol.OpSystemInfo:
			resp[protocol.OpSystemInfo] = map[string]any{"OS": "linux", "Devices": []any{"CPU"}}
		case protocol.OpLabelDictionary:
			resp[protocol.OpLabelDictionary] = s.cfg.labelDict
		case protocol.OpTraceManage, protocol.OpZooManage, protocol.OpDevCtrl:
			resp[op] = req["args"]
		case protocol.OpShutdown:
			s.mu.Lock()
			s.shutdownReceived = true
			s.mu.Unlock()
		}
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return false
	}
	return protocol.WriteFrame(conn, b) == nil
}

func (s *fakeServer) handleStream(conn net.Conn) {
	perBatch := s.cfg.framesPerBatch
	if perBatch < 1 {
		perBatch = 1
	}

	s.mu.Lock()
	streamIdx := s.streams
	s.streams++
	s.mu.Unlock()
	errorAt := s.cfg.errorAtFrame
	if s.cfg.errorOnce && streamIdx > 0 {
		errorAt = -1
	}

	frame := 0
	buffered := 0
	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil || len(payload) == 0 {
			return
		}
		buffered++
		if buffered < perBatch {
			continue
		}
		buffered = 0

		if s.cfg.silentStream {
			continue
		}
		if s.cfg.replyDelay > 0 {
			time.Sleep(s.cfg.replyDelay)
		}

		var doc map[string]any
		if frame == errorAt {
			doc = map[string]any{"success": false, "msg": s.cfg.errorMsg}
		} else {
			doc = map[string]any{
				"success": true,
				"result":  []any{map[string]any{"frame": frame, "label": "cat", "score": 0.9}},
			}
		}
		frame++

		b, err := protocol.EncodeResult(doc)
		if err != nil {
			return
		}
		if protocol.WriteFrame(conn, b) != nil {
			return
		}
	}
}

// tagCollector records callback invocations in order.
type tagCollector struct {
	mu   sync.Mutex
	tags []string
	docs []any
}

func (c *tagCollector) callback(result any, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tag)
	c.docs = append(c.docs, result)
}

func (c *tagCollector) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tags...)
}

func (c *tagCollector) results() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.docs...)
}
