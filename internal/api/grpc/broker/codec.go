package broker

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of broker messages.
const CodecName = "cbor"

// codec marshals messages with Core Deterministic Encoding.
type codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCodec() (*codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}

	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}

	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *codec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (*codec) Name() string {
	return CodecName
}

func init() { //nolint:gochecknoinits // gRPC looks codecs up in a global registry.
	c, err := newCodec()
	if err != nil {
		panic("broker: CBOR codec initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(c)
}
