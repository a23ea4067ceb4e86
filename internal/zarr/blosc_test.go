package zarr

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/pierrec/lz4/v4"
)

func floats(n int) []byte {
	b := make([]byte, 8*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(float64(i%4)))
	}
	return b
}

func shuffled(b []byte, typesize int) []byte {
	out := make([]byte, len(b))
	n := len(b) / typesize
	for j := 0; j < typesize; j++ {
		for i := 0; i < n; i++ {
			out[j*n+i] = b[i*typesize+j]
		}
	}
	return out
}

func bloscFrame(flags byte, typesize int, nbytes int, body []byte) []byte {
	h := make([]byte, bloscHeaderSize)
	h[0], h[1], h[2], h[3] = 2, 1, flags, byte(typesize)
	binary.LittleEndian.PutUint32(h[4:], uint32(nbytes))
	binary.LittleEndian.PutUint32(h[8:], uint32(nbytes))
	binary.LittleEndian.PutUint32(h[12:], uint32(bloscHeaderSize+len(body)))
	return append(h, body...)
}

func TestBloscMemcpyed(t *testing.T) {
	raw := floats(16)
	c, err := NewCodec(CodecConfig{"id": "blosc", "cname": "lz4"}, CodecOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decode(bloscFrame(bloscMemcpyed, 8, len(raw), raw))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("memcpyed frame mismatch")
	}
}

func TestBloscLZ4Shuffled(t *testing.T) {
	raw := floats(64)
	sh := shuffled(raw, 8)
	comp := make([]byte, lz4.CompressBlockBound(len(sh)))
	n, err := lz4.CompressBlock(sh, comp, nil)
	if err != nil || n == 0 {
		t.Fatalf("compress n=%d err=%v", n, err)
	}
	// one block, one split: block start table then size-prefixed stream
	body := make([]byte, 8)
	binary.LittleEndian.PutUint32(body, uint32(bloscHeaderSize+4))
	binary.LittleEndian.PutUint32(body[4:], uint32(n))
	body = append(body, comp[:n]...)
	flags := byte(bloscDoShuffle | bloscDontSplit | bloscLZ4<<5)

	c, _ := NewCodec(CodecConfig{"id": "blosc"}, CodecOptions{})
	got, err := c.Decode(bloscFrame(flags, 8, len(raw), body))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatal("decoded frame differs")
	}
}

func TestBloscRejectsBloscLZ(t *testing.T) {
	c, _ := NewCodec(CodecConfig{"id": "blosc"}, CodecOptions{})
	body := make([]byte, 8)
	if _, err := c.Decode(bloscFrame(bloscDoShuffle, 8, 64, body)); err == nil {
		t.Fatal("expected blosclz to be rejected")
	}
}

func TestUnshuffleKeepsTrailingBytes(t *testing.T) {
	b := []byte{1, 3, 5, 2, 4, 6, 9}
	unshuffle(b, 2)
	want := []byte{1, 2, 3, 4, 5, 6, 9}
	if !bytes.Equal(b, want) {
		t.Fatalf("got %v", b)
	}
}
