package refstore

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeMsgpack appends the msgpack encoding of v to bb. Map keys are sorted
// so that equal values always produce equal bytes (and equal hashes).
func encodeMsgpack(bb *bytesBuilder, v any) error {
	enc := msgpack.GetEncoder()
	enc.ResetDict(bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return nil
}

func decodeMsgpack(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
