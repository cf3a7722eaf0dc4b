package protocol

import (
	"encoding/json"

	"github.com/axionml/inferlink/errors"
)

// VersionTag is the key carrying the client-server protocol version in
// every control message.
const VersionTag = "VERSION"

// MinCompatibleVersion is the minimum server protocol version the client
// accepts.
const MinCompatibleVersion = 4

// CurrentVersion is the protocol version this client speaks.
const CurrentVersion = 4

// Command opcodes sent as the "op" field of control requests.
const (
	OpStream          = "stream"
	OpModelZoo        = "modelzoo"
	OpSleep           = "sleep"
	OpShutdown        = "shutdown"
	OpLabelDictionary = "label_dictionary"
	OpSystemInfo      = "system_info"
	OpTraceManage     = "trace_manage"
	OpZooManage       = "zoo_manage"
	OpDevCtrl         = "dev_ctrl"
)

// PrepareRequest stamps the protocol version into a control request and
// encodes it as JSON text. The input map is not modified.
func PrepareRequest(req map[string]any) ([]byte, error) {
	out := make(map[string]any, len(req)+1)
	for k, v := range req {
		out[k] = v
	}
	if _, ok := out[VersionTag]; !ok {
		out[VersionTag] = CurrentVersion
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "failed to encode request")
	}
	return b, nil
}

// ParseResponse decodes a control response. The response must be a JSON
// object; anything else means the peer does not speak a compatible
// protocol.
func ParseResponse(b []byte, source string) (map[string]any, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.KindParseError, "%s: invalid response", source)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.KindNotSupportedVersion,
			"%s: response from server is incorrect", source)
	}
	return obj, nil
}

// CheckVersion verifies the protocol version tag of a control response.
// A missing tag or a version below MinCompatibleVersion fails with
// NotSupportedVersion.
func CheckVersion(resp map[string]any, source string) error {
	v, ok := resp[VersionTag]
	if !ok {
		return errors.Newf(errors.KindNotSupportedVersion,
			"%s: server protocol version data is missing in response; please upgrade the AI server", source)
	}
	var version int
	switch n := v.(type) {
	case float64:
		version = int(n)
	case int:
		version = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return errors.Newf(errors.KindNotSupportedVersion, "%s: malformed server protocol version", source)
		}
		version = int(i)
	default:
		return errors.Newf(errors.KindNotSupportedVersion, "%s: malformed server protocol version", source)
	}
	if version < MinCompatibleVersion {
		return errors.Newf(errors.KindNotSupportedVersion,
			"%s: server protocol version %d is older than minimum supported version %d",
			source, version, MinCompatibleVersion)
	}
	return nil
}

// ResponseError extracts the error message from a response document
// carrying `success: false`. It returns the empty string when the
// document reports no error.
func ResponseError(doc any) string {
	obj, ok := doc.(map[string]any)
	if !ok {
		return ""
	}
	success, ok := obj["success"].(bool)
	if !ok || success {
		return ""
	}
	if msg, ok := obj["msg"].(string); ok && msg != "" {
		return msg
	}
	return "unspecified error"
}

// CheckResponse fails with OperationFailed when the response document
// reports `success: false`, carrying the server message.
func CheckResponse(resp map[string]any, source string) error {
	msg := ResponseError(resp)
	if msg == "" {
		return nil
	}
	if source == "" {
		return errors.New(errors.KindOperationFailed, msg)
	}
	return errors.Newf(errors.KindOperationFailed, "%s: %s", source, msg)
}
