// Package client provides the inferlink client: a single polymorphic
// handle for submitting inference requests to a remote AI server and
// streaming results back with bounded concurrency. The factory selects
// the wire transport from the server address scheme.
package client

import (
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"github.com/axionml/inferlink/address"
	"github.com/axionml/inferlink/config"
	"github.com/axionml/inferlink/errors"
	"github.com/axionml/inferlink/metric"
	"github.com/axionml/inferlink/modelparams"
	"github.com/axionml/inferlink/pipeline"
)

// Default timeout budgets applied when no option overrides them.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultInferenceTimeout  = 180 * time.Second
)

// ModelInfo identifies one model of the server model zoo together with
// its configuration document.
type ModelInfo struct {
	// Name is the model string name.
	Name string
	// W, H, C, N are the input width, height, color depth, and frame depth.
	W, H, C, N int
	// DeviceType is the device type on which the model runs.
	DeviceType string
	// RuntimeAgent is the runtime agent type on which the model runs.
	RuntimeAgent string
	// ModelQuantized reports whether the model is quantized.
	ModelQuantized bool
	// ModelPruned reports whether the model is pruned (not dense).
	ModelPruned bool
	// InputType is the input data type of the first model input.
	InputType string
	// InputTensorLayout is the tensor layout the model expects.
	InputTensorLayout string
	// InputColorSpace is the color space the model expects.
	InputColorSpace string
	// ExtendedParams is the full model configuration document.
	ExtendedParams *modelparams.Params
}

// modelInfoFrom fills a ModelInfo from a model configuration document.
func modelInfoFrom(name string, params *modelparams.Params) ModelInfo {
	return ModelInfo{
		Name:              name,
		W:                 params.InputW(0),
		H:                 params.InputH(0),
		C:                 params.InputC(0),
		N:                 params.InputN(0),
		DeviceType:        params.DeviceType(),
		RuntimeAgent:      params.RuntimeAgent(),
		ModelQuantized:    params.ModelQuantized(),
		ModelPruned:       params.ModelPruned(),
		InputType:         params.InputType(0),
		InputTensorLayout: params.InputTensorLayout(0),
		InputColorSpace:   params.InputColorSpace(0),
		ExtendedParams:    params,
	}
}

// Client is the protocol handler of the AI client-server system. A client
// owns at most one stream at a time; opening a second stream implicitly
// closes the first.
type Client interface {
	// ModelZooList enumerates the models of all model zoos of the server.
	ModelZooList() ([]ModelInfo, error)
	// SystemInfo returns the host capability dictionary of the server.
	SystemInfo() (any, error)
	// TraceManage performs a server tracing management request.
	TraceManage(req any) (any, error)
	// ZooManage performs a model zoo management request.
	ZooManage(req any) (any, error)
	// DevCtrl performs a device control request.
	DevCtrl(req any) (any, error)
	// Ping pings the server with an instantaneous command, optionally
	// asking it to sleep for the given time first. When ignoreErrors is
	// true every failure returns (false, nil) instead of an error.
	Ping(sleepMS float64, ignoreErrors bool) (bool, error)
	// LabelDictionary returns the label dictionary of a model.
	LabelDictionary(modelName string) (any, error)
	// OpenStream opens the stream channel for the given model with the
	// given frame queue depth. Additional model parameters are merged
	// into the model configuration on the server. Opening a stream
	// clears the sticky error of any previous streaming session.
	OpenStream(modelName string, frameQueueDepth int, extraParams *modelparams.Params) error
	// CloseStream closes the stream channel. It is idempotent.
	CloseStream() error
	// InstallCallback installs the result observation callback used by
	// Submit. Passing nil removes it; the receiver must be quiescent.
	InstallCallback(cb pipeline.Callback) error
	// Submit sends one frame batch for inference. The tag is delivered
	// verbatim to the callback with the corresponding result. After a
	// sticky error submissions are silently dropped.
	Submit(batch [][]byte, tag string) error
	// Finish finalizes the sequence of frames: it waits until all
	// outstanding results are received or an error is set. Errors are
	// reported only through LastError.
	Finish()
	// Predict runs single-shot inference on one frame batch. It requires
	// an open stream and no installed streaming callback.
	Predict(batch [][]byte) (any, error)
	// Shutdown asks the server to terminate.
	Shutdown() error
	// Outstanding returns the number of frames submitted for which no
	// result has been dispatched yet.
	Outstanding() int
	// LastError returns the sticky error of the current streaming
	// session, or the empty string.
	LastError() string
	// Close finishes and tears down the client, swallowing errors.
	Close() error
}

type options struct {
	connectionTimeout time.Duration
	inferenceTimeout  time.Duration
	logger            *slog.Logger
	metrics           *metric.Metrics
	token             string
}

func defaultOptions() options {
	return options{
		connectionTimeout: DefaultConnectionTimeout,
		inferenceTimeout:  DefaultInferenceTimeout,
		logger:            slog.Default(),
	}
}

// Option is a functional option for configuring a client.
type Option func(*options) error

// WithConnectionTimeout sets the budget for connection establishment and
// control requests.
func WithConnectionTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New(errors.KindBadParameter, "connection timeout must be positive")
		}
		o.connectionTimeout = d
		return nil
	}
}

// WithInferenceTimeout sets the budget for stream response waits and
// queue-full waits.
func WithInferenceTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New(errors.KindBadParameter, "inference timeout must be positive")
		}
		o.inferenceTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l == nil {
			l = slog.Default()
		}
		o.logger = l
		return nil
	}
}

// WithMetrics attaches Prometheus instrumentation to the client.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithToken sets the opaque authentication token passed through to the
// server.
func WithToken(token string) Option {
	return func(o *options) error {
		o.token = token
		return nil
	}
}

// New creates a client for the given server address. The address scheme
// selects the transport: "http://" gives the HTTP control surface with a
// WebSocket data channel, "asio://" or no scheme gives the proprietary
// TCP protocol. The TCP control connection is established immediately;
// the HTTP transport connects lazily.
func New(serverURL string, opts ...Option) (Client, error) {
	addr, err := address.Parse(serverURL)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	switch addr.Transport {
	case address.TransportHTTP:
		return newHTTPClient(addr, o), nil
	default:
		return newTCPClient(addr, o)
	}
}

// FromConfig creates a client from a validated configuration. Options
// derived from the configuration come first, so explicit opts win.
func FromConfig(cfg config.Config, opts ...Option) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, infer, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}
	all := []Option{
		WithConnectionTimeout(conn),
		WithInferenceTimeout(infer),
	}
	if cfg.Token != "" {
		all = append(all, WithToken(cfg.Token))
	}
	all = append(all, opts...)
	return New(cfg.ServerURL, all...)
}

// runSingleShot implements Predict on top of the streaming pipeline: a
// capturing callback is installed, the batch is submitted with an empty
// tag, the pipeline is finalized, and the sticky error, if any, is
// raised.
func runSingleShot(p *pipeline.Pipeline, submit func() error, finish func()) (any, error) {
	var result any
	if err := p.InstallCallback(func(r any, _ string) { result = r }); err != nil {
		return nil, err
	}
	defer func() { _ = p.InstallCallback(nil) }()

	if err := submit(); err != nil {
		finish()
		return nil, err
	}
	finish()

	if msg := p.LastError(); msg != "" {
		return nil, errors.New(errors.KindOperationFailed, msg)
	}
	return result, nil
}

// classify maps a transport error to the client error model, turning
// network timeouts into Timeout failures.
func classify(err error, kind errors.Kind, msg string) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(err, errors.KindTimeout, msg)
	}
	return errors.Wrap(err, kind, msg)
}

// isNetTimeout reports whether err is a network timeout.
func isNetTimeout(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
