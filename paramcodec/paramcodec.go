// Package paramcodec packs a structured value into a single CMCP DataList
// parameter item and unpacks it again. CMCP's parameter payloads are
// opaque to the protocol, so there is no fixed schema to generate code
// from; structpb carries an arbitrary-shape value over the same protobuf
// wire encoding a generated message would use.
package paramcodec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode marshals value, a plain map[string]any (or anything structpb.NewStruct
// accepts), into wire bytes suitable for DataList.Add.
func Encode(value map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(value)
	if err != nil {
		return nil, fmt.Errorf("paramcodec: encode: %w", err)
	}
	buf, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("paramcodec: encode: %w", err)
	}
	return buf, nil
}

// Decode unmarshals bytes produced by Encode back into a plain
// map[string]any.
func Decode(bytes []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(bytes, &s); err != nil {
		return nil, fmt.Errorf("paramcodec: decode: %w", err)
	}
	return s.AsMap(), nil
}
