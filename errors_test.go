package refstore

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTableError(t *testing.T) {
	err := tableErrf(tableKeyValueStore, x("0000000161"), ErrNotFound, "")
	if s, wanted := err.Error(), "KeyValueStore/0000000161: not found"; s != wanted {
		t.Fatalf("Error() = %q, wanted %q", s, wanted)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(ErrNotFound) = false")
	}

	key := bytes.Repeat([]byte{0xab}, 40000)
	s := tableErrf(tableKeyValueStore, key, nil, "put failed").Error()
	wanted := "KeyValueStore/" + strings.Repeat("ab", 64) + "…(+39936 bytes): put failed"
	if s != wanted {
		t.Fatalf("Error() = %q, wanted %q", s, wanted)
	}

	key = bytes.Repeat([]byte{0xcd}, 64)
	s = tableErrf(tableKeyValueStore, key, nil, "").Error()
	if s != "KeyValueStore/"+strings.Repeat("cd", 64) {
		t.Fatalf("Error() for a 64-byte key = %q, wanted it in full", s)
	}
}
