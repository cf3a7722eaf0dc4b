package protocol

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/axionml/inferlink/errors"
)

// DecodeResult decodes a MessagePack-serialized result document from the
// stream channel into its generic JSON form (maps, slices, scalars).
func DecodeResult(b []byte) (any, error) {
	var doc any
	if err := msgpack.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "failed to decode result document")
	}
	return doc, nil
}

// EncodeResult encodes a result document to MessagePack. The client never
// sends result documents; this is the inverse of DecodeResult for test
// servers and tooling.
func EncodeResult(doc any) ([]byte, error) {
	b, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindParseError, "failed to encode result document")
	}
	return b, nil
}
