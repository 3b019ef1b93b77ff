package transport

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/user/remixsync/internal/types"
)

// Codec turns envelopes into websocket frames and back.
type Codec interface {
	Name() string
	MessageType() int
	Marshal(env types.Envelope) ([]byte, error)
	Unmarshal(data []byte, env *types.Envelope) error
}

// JSONCodec sends envelopes as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string     { return "json" }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Marshal(env types.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (JSONCodec) Unmarshal(data []byte, env *types.Envelope) error {
	return json.Unmarshal(data, env)
}

// cborEnc uses Core Deterministic Encoding so the same envelope always
// produces the same bytes. Times are encoded as RFC 3339 text to keep
// sub-second precision.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec sends envelopes as binary CBOR frames.
type CBORCodec struct{}

func (CBORCodec) Name() string     { return "cbor" }
func (CBORCodec) MessageType() int { return websocket.BinaryMessage }

func (CBORCodec) Marshal(env types.Envelope) ([]byte, error) {
	return cborEnc.Marshal(env)
}

func (CBORCodec) Unmarshal(data []byte, env *types.Envelope) error {
	return cborDec.Unmarshal(data, env)
}

// CodecByName returns the codec registered under name. An empty name selects
// JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
