package dock

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc/encoding and forced on both the
// server and every client connection via grpc.ForceCodec, since none of
// these messages are protobuf-generated types.
const codecName = "dgob"

// gobCodec adapts encoding/gob to grpc's encoding.Codec interface. It is
// registered globally in init so a bare codecName string (used in
// grpc.ForceCodec) resolves correctly regardless of which package
// constructs the server or client first.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("dock: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("dock: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// ServerCodecOption returns the grpc.ServerOption that forces every Dock
// RPC to use the gob codec, for callers (outside this package) building
// their own *grpc.Server to host a Server.
func ServerCodecOption() grpc.ServerOption {
	return grpc.ForceServerCodec(gobCodec{})
}
