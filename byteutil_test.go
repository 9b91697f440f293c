package refstore

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder

	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	bb.AppendByte(4)
	bb.AppendFixedUint16(0x0506)
	bb.AppendFixedUint32(0x0708090a)
	bb.AppendFixedUint64(0x0102030405060708)
	bb.AppendUvarint(0x42)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	want = binary.BigEndian.AppendUint64(want, 0x0102030405060708)
	want = binary.AppendUvarint(want, 0x42)
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}
	if bb.Len() != len(want) {
		t.Fatalf("Len = %d, wanted %d", bb.Len(), len(want))
	}

	bb.Trim(2)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2}) {
		t.Fatalf("after Trim: bb.Buf = %x, wanted 0102", bb.Buf)
	}

	_, _ = bb.Write([]byte{9, 8})
	_ = bb.WriteByte(7)
	_, _ = bb.WriteString("A")
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 9, 8, 7, 'A'}) {
		t.Fatalf("after writes: bb.Buf = %x, wanted 010209080741", bb.Buf)
	}

	bb.Reset()
	bb.AppendVarString("hi")
	if !reflect.DeepEqual(bb.Buf, []byte{2, 'h', 'i'}) {
		t.Fatalf("AppendVarString = %x, wanted 026869", bb.Buf)
	}
}

func TestByteDecoder(t *testing.T) {
	var bb bytesBuilder
	bb.AppendVarString("hi")
	bb.AppendByte(0xAB)
	bb.AppendFixedUint16(0x0102)
	bb.AppendFixedUint32(0x03040506)
	bb.AppendFixedUint64(math.MaxUint64)
	bb.Write([]byte("rest"))

	d := makeByteDecoder(bb.Buf)
	if v, err := d.VarBytes(); err != nil || string(v) != "hi" {
		t.Fatalf("VarBytes = (%q, %v), wanted (\"hi\", nil)", v, err)
	}
	if v, err := d.Byte(); err != nil || v != 0xAB {
		t.Fatalf("Byte = (%x, %v), wanted (ab, nil)", v, err)
	}
	if v, err := d.FixedUint16(); err != nil || v != 0x0102 {
		t.Fatalf("FixedUint16 = (%x, %v), wanted (0102, nil)", v, err)
	}
	if v, err := d.FixedUint32(); err != nil || v != 0x03040506 {
		t.Fatalf("FixedUint32 = (%x, %v), wanted (03040506, nil)", v, err)
	}
	if v, err := d.FixedUint64(); err != nil || v != math.MaxUint64 {
		t.Fatalf("FixedUint64 = (%x, %v), wanted (ffffffffffffffff, nil)", v, err)
	}
	if off := d.Off(); off != 3+1+2+4+8 {
		t.Fatalf("Off = %d, wanted 18", off)
	}
	if v := d.Rest(); string(v) != "rest" || d.Remaining() != 0 {
		t.Fatalf("Rest = %q, remaining %d, wanted \"rest\", 0", v, d.Remaining())
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80}) // continuation bit with no terminator
		_, err := d.Uvarint()
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("Uvarint err = %T %v, wanted *DataError", err, err)
		}
		if de.Off != 0 {
			t.Fatalf("DataError.Off = %d, wanted 0", de.Off)
		}
	})

	t.Run("uvarint overflows int", func(t *testing.T) {
		var b [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(b[:], uint64(math.MaxInt)+1)
		d := makeByteDecoder(b[:n])
		_, err := d.Uvarinti()
		if err == nil {
			t.Fatalf("Uvarinti err = nil, wanted error")
		}
	})

	t.Run("Raw not enough data", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		_, err := d.Raw(3)
		if err == nil {
			t.Fatalf("Raw err = nil, wanted error")
		}
	})

	t.Run("truncated FixedUint64", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2, 3})
		if _, err := d.FixedUint64(); err == nil {
			t.Fatalf("FixedUint64 err = nil, wanted error")
		}
	})
}

func TestBufferPool(t *testing.T) {
	p := newBufferPool()

	small := p.acquire(4)
	if cap(small.Buf) < 4 {
		t.Fatalf("cap = %d, wanted >= 4", cap(small.Buf))
	}
	huge := p.acquire(1 << 20)
	if cap(huge.Buf) < 1<<20 {
		t.Fatalf("cap = %d, wanted >= 1M", cap(huge.Buf))
	}
	if n := p.Outstanding(); n != 2 {
		t.Fatalf("Outstanding = %d, wanted 2", n)
	}

	small.AppendFixedUint32(0xdeadbeef)
	small.release()
	small.release()
	huge.release()
	if n := p.Outstanding(); n != 0 {
		t.Fatalf("Outstanding = %d, wanted 0", n)
	}
}
