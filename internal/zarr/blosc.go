package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Blosc1 frame header flags.
const (
	bloscHeaderSize = 16
	bloscMaxSplits  = 16

	bloscDoShuffle    = 0x01
	bloscMemcpyed     = 0x02
	bloscDoBitShuffle = 0x04
	bloscDontSplit    = 0x10
)

// Inner compressor codes, stored in the top three flag bits.
const (
	bloscBloscLZ = iota
	bloscLZ4
	bloscSnappy
	bloscZlib
	bloscZstd
)

var bloscNames = map[int]string{
	bloscBloscLZ: "blosclz",
	bloscLZ4:     "lz4",
	bloscSnappy:  "snappy",
	bloscZlib:    "zlib",
	bloscZstd:    "zstd",
}

// bloscCodec decodes blosc1 frames. blosclz and bitshuffle are not
// supported; the common lz4/zstd/zlib frames with byte shuffle are.
type bloscCodec struct{}

func newBlosc(CodecConfig, CodecOptions) (Codec, error) {
	if _, err := newZstd(nil, CodecOptions{}); err != nil {
		return nil, err
	}
	return bloscCodec{}, nil
}

type bloscHeader struct {
	flags     byte
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
}

func parseBloscHeader(in []byte) (bloscHeader, error) {
	if len(in) < bloscHeaderSize {
		return bloscHeader{}, fmt.Errorf("blosc: %d byte frame", len(in))
	}
	h := bloscHeader{
		flags:     in[2],
		typesize:  int(in[3]),
		nbytes:    int(binary.LittleEndian.Uint32(in[4:])),
		blocksize: int(binary.LittleEndian.Uint32(in[8:])),
		cbytes:    int(binary.LittleEndian.Uint32(in[12:])),
	}
	if h.cbytes > len(in) {
		return h, fmt.Errorf("blosc: frame says %d bytes, have %d", h.cbytes, len(in))
	}
	if h.typesize == 0 {
		h.typesize = 1
	}
	return h, nil
}

func (bloscCodec) Decode(in []byte) ([]byte, error) {
	h, err := parseBloscHeader(in)
	if err != nil {
		return nil, err
	}
	if h.flags&bloscMemcpyed != 0 {
		if len(in) < bloscHeaderSize+h.nbytes {
			return nil, fmt.Errorf("blosc: short memcpyed frame")
		}
		return append([]byte(nil), in[bloscHeaderSize:bloscHeaderSize+h.nbytes]...), nil
	}
	if h.flags&bloscDoBitShuffle != 0 {
		return nil, fmt.Errorf("blosc: bitshuffle is not supported")
	}
	if h.nbytes == 0 {
		return []byte{}, nil
	}
	if h.blocksize <= 0 {
		return nil, fmt.Errorf("blosc: block size %d", h.blocksize)
	}
	comp := int(h.flags >> 5)
	if comp == bloscBloscLZ {
		return nil, fmt.Errorf("blosc: inner compressor blosclz is not supported")
	}
	if _, ok := bloscNames[comp]; !ok {
		return nil, fmt.Errorf("blosc: unknown inner compressor %d", comp)
	}

	nblocks := (h.nbytes + h.blocksize - 1) / h.blocksize
	starts := in[bloscHeaderSize:]
	if len(starts) < 4*nblocks {
		return nil, fmt.Errorf("blosc: truncated block table")
	}
	out := make([]byte, h.nbytes)
	for b := 0; b < nblocks; b++ {
		bsize := h.blocksize
		leftover := b == nblocks-1 && h.nbytes%h.blocksize != 0
		if leftover {
			bsize = h.nbytes % h.blocksize
		}
		start := int(binary.LittleEndian.Uint32(starts[4*b:]))
		dst := out[b*h.blocksize : b*h.blocksize+bsize]
		if err := decodeBloscBlock(in, start, h, comp, leftover, dst); err != nil {
			return nil, fmt.Errorf("blosc: block %d: %w", b, err)
		}
		if h.flags&bloscDoShuffle != 0 && h.typesize > 1 {
			unshuffle(dst, h.typesize)
		}
	}
	return out, nil
}

func decodeBloscBlock(in []byte, pos int, h bloscHeader, comp int, leftover bool, dst []byte) error {
	nsplits := 1
	if h.flags&bloscDontSplit == 0 && !leftover && h.typesize <= bloscMaxSplits && len(dst)%h.typesize == 0 {
		nsplits = h.typesize
	}
	neblock := len(dst) / nsplits
	for s := 0; s < nsplits; s++ {
		if pos+4 > len(in) {
			return fmt.Errorf("truncated split header")
		}
		csize := int(int32(binary.LittleEndian.Uint32(in[pos:])))
		pos += 4
		if csize < 0 || pos+csize > len(in) {
			return fmt.Errorf("split size %d out of range", csize)
		}
		src := in[pos : pos+csize]
		part := dst[s*neblock : (s+1)*neblock]
		if csize == neblock {
			copy(part, src)
		} else if err := bloscInflate(comp, src, part); err != nil {
			return err
		}
		pos += csize
	}
	return nil
}

func bloscInflate(comp int, src, dst []byte) error {
	var (
		out []byte
		err error
	)
	switch comp {
	case bloscLZ4:
		var n int
		if n, err = lz4.UncompressBlock(src, dst); err == nil && n != len(dst) {
			err = fmt.Errorf("lz4 produced %d of %d bytes", n, len(dst))
		}
		return err
	case bloscSnappy:
		out, err = snappy.Decode(nil, src)
	case bloscZlib:
		var r io.ReadCloser
		if r, err = zlib.NewReader(bytes.NewReader(src)); err == nil {
			out, err = readAllClose(r)
		}
	case bloscZstd:
		out, err = zstdDec.DecodeAll(src, nil)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", bloscNames[comp], err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%s produced %d of %d bytes", bloscNames[comp], len(out), len(dst))
	}
	copy(dst, out)
	return nil
}

// unshuffle reverses the byte shuffle filter in place: the frame stores
// byte j of every element contiguously. Trailing bytes that do not form a
// whole element are stored as is.
func unshuffle(b []byte, typesize int) {
	n := len(b) / typesize
	if n == 0 {
		return
	}
	src := append([]byte(nil), b[:n*typesize]...)
	for j := 0; j < typesize; j++ {
		for i := 0; i < n; i++ {
			b[i*typesize+j] = src[j*n+i]
		}
	}
}
