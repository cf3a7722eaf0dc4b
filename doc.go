// Package inferlink is a client library for remote AI inference servers,
// streaming frame batches to a server and dispatching results back in
// submission order with bounded concurrency.
//
// # Architecture
//
// The library is organized as a small set of layers, leaves first:
//
//   - address: server address parsing; the URL scheme selects the wire
//     transport ("http://" for HTTP+WebSocket, "asio://" or none for the
//     proprietary TCP protocol)
//   - protocol: the length-prefixed frame codec, the control command set,
//     response envelope validation, and MessagePack result decoding
//   - modelparams: typed access to JSON model configuration documents
//     with runtime-parameter merging
//   - pipeline: the bounded-window submit/receive engine with in-order
//     callback dispatch, backpressure, and sticky-error semantics
//   - client: the polymorphic client handle with its two transport
//     implementations and the factory selecting between them
//   - config: YAML client configuration
//   - metric: Prometheus instrumentation
//
// # Usage
//
// A client is created from a server address and used either for
// single-shot prediction:
//
//	cli, err := client.New("localhost:8778")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cli.Close()
//
//	if err := cli.OpenStream("mobilenet", 4, nil); err != nil {
//		log.Fatal(err)
//	}
//	result, err := cli.Predict([][]byte{frameBytes})
//
// or for streaming inference with a result callback and bounded
// outstanding-frame window:
//
//	cli.InstallCallback(func(result any, tag string) {
//		fmt.Println(tag, result)
//	})
//	for i, f := range frames {
//		cli.Submit([][]byte{f}, strconv.Itoa(i))
//	}
//	cli.Finish()
//	if msg := cli.LastError(); msg != "" {
//		log.Fatal(msg)
//	}
//
// Results are delivered strictly in submission order. The first server
// error of a streaming session is delivered to the callback and then
// becomes sticky: later submissions are dropped silently and the error
// stays visible through LastError until the stream is re-opened.
package inferlink
