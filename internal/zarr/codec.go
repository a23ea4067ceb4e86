package zarr

import (
	"bytes"
	"compress/bzip2"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/chacha20poly1305"
)

// Codec reverses one numcodecs transformation.
type Codec interface {
	Decode(in []byte) ([]byte, error)
}

// Encoder is implemented by codecs that can also write chunks.
type Encoder interface {
	Encode(in []byte) ([]byte, error)
}

// CodecOptions carries secrets that never live in array metadata.
type CodecOptions struct {
	// EncryptionKey is the 32 byte key of the xchacha20poly1305 codec.
	EncryptionKey []byte
}

type CodecFactory func(cfg CodecConfig, opts CodecOptions) (Codec, error)

var (
	codecMu sync.RWMutex
	codecs  = map[string]CodecFactory{
		"zlib":              newZlib,
		"gzip":              newGzip,
		"zstd":              newZstd,
		"lz4":               newLZ4,
		"bz2":               newBz2,
		"blosc":             newBlosc,
		"xchacha20poly1305": newXChaCha,
	}
)

// RegisterCodec adds or replaces a codec id.
func RegisterCodec(id string, f CodecFactory) {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecs[id] = f
}

// Codecs lists the registered codec ids.
func Codecs() []string {
	codecMu.RLock()
	defer codecMu.RUnlock()
	out := make([]string, 0, len(codecs))
	for id := range codecs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func NewCodec(cfg CodecConfig, opts CodecOptions) (Codec, error) {
	codecMu.RLock()
	f, ok := codecs[cfg.ID()]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported codec %q", cfg.ID())
	}
	return f(cfg, opts)
}

// pipeline decodes a stored chunk: compressor first, then filters in
// reverse order.
type pipeline []Codec

func newPipeline(m *ArrayMeta, opts CodecOptions) (pipeline, error) {
	var p pipeline
	if m.Compressor != nil {
		c, err := NewCodec(m.Compressor, opts)
		if err != nil {
			return nil, fmt.Errorf("compressor: %w", err)
		}
		p = append(p, c)
	}
	for i := len(m.Filters) - 1; i >= 0; i-- {
		c, err := NewCodec(m.Filters[i], opts)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		p = append(p, c)
	}
	return p, nil
}

func (p pipeline) decode(b []byte) ([]byte, error) {
	var err error
	for _, c := range p {
		if b, err = c.Decode(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func readAllClose(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}

type zlibCodec struct{ level int }

func newZlib(cfg CodecConfig, _ CodecOptions) (Codec, error) {
	return zlibCodec{level: intOpt(cfg, "level", zlib.DefaultCompression)}, nil
}

func (zlibCodec) Decode(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	return readAllClose(r)
}

func (c zlibCodec) Encode(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type gzipCodec struct{ level int }

func newGzip(cfg CodecConfig, _ CodecOptions) (Codec, error) {
	return gzipCodec{level: intOpt(cfg, "level", gzip.DefaultCompression)}, nil
}

func (gzipCodec) Decode(in []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return readAllClose(r)
}

func (c gzipCodec) Encode(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zstd decoders are safe for concurrent DecodeAll calls.
var (
	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdEnc  *zstd.Encoder
	zstdErr  error
)

type zstdCodec struct{}

func newZstd(CodecConfig, CodecOptions) (Codec, error) {
	zstdOnce.Do(func() {
		if zstdDec, zstdErr = zstd.NewReader(nil); zstdErr != nil {
			return
		}
		zstdEnc, zstdErr = zstd.NewWriter(nil)
	})
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdCodec{}, nil
}

func (zstdCodec) Decode(in []byte) ([]byte, error) {
	out, err := zstdDec.DecodeAll(in, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}

func (zstdCodec) Encode(in []byte) ([]byte, error) {
	return zstdEnc.EncodeAll(in, nil), nil
}

// lz4Codec is the numcodecs LZ4 layout: a little-endian uint32 holding the
// decoded size followed by one lz4 block.
type lz4Codec struct{}

func newLZ4(CodecConfig, CodecOptions) (Codec, error) { return lz4Codec{}, nil }

func (lz4Codec) Decode(in []byte) ([]byte, error) {
	if len(in) < 4 {
		return nil, fmt.Errorf("lz4: %d byte frame", len(in))
	}
	n := binary.LittleEndian.Uint32(in)
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	got, err := lz4.UncompressBlock(in[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if got != int(n) {
		return nil, fmt.Errorf("lz4: decoded %d bytes, header says %d", got, n)
	}
	return out, nil
}

func (lz4Codec) Encode(in []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(in)))
	binary.LittleEndian.PutUint32(dst, uint32(len(in)))
	n, err := lz4.CompressBlock(in, dst[4:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if n == 0 && len(in) > 0 {
		return nil, fmt.Errorf("lz4: %d bytes are incompressible", len(in))
	}
	return dst[:4+n], nil
}

type bz2Codec struct{}

func newBz2(CodecConfig, CodecOptions) (Codec, error) { return bz2Codec{}, nil }

func (bz2Codec) Decode(in []byte) ([]byte, error) {
	out, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(in)))
	if err != nil {
		return nil, fmt.Errorf("bz2: %w", err)
	}
	return out, nil
}

// DefaultEncryptionHeader is the associated data used when the codec
// configuration does not name one.
const DefaultEncryptionHeader = "dClimate-Zarr"

// xchachaCodec decrypts chunks laid out as nonce(24) || tag(16) || ciphertext
// with the configured header as associated data.
type xchachaCodec struct {
	key    []byte
	header []byte
}

func newXChaCha(cfg CodecConfig, opts CodecOptions) (Codec, error) {
	if len(opts.EncryptionKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("xchacha20poly1305: encryption key must be %d bytes, have %d", chacha20poly1305.KeySize, len(opts.EncryptionKey))
	}
	h := cfg.String("header")
	if h == "" {
		h = DefaultEncryptionHeader
	}
	return xchachaCodec{key: opts.EncryptionKey, header: []byte(h)}, nil
}

// ParseEncryptionKey decodes a hex encoded 32 byte key.
func ParseEncryptionKey(s string) ([]byte, error) {
	k, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if len(k) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, have %d", chacha20poly1305.KeySize, len(k))
	}
	return k, nil
}

func (c xchachaCodec) Decode(in []byte) ([]byte, error) {
	const ns, ts = chacha20poly1305.NonceSizeX, chacha20poly1305.Overhead
	if len(in) < ns+ts {
		return nil, fmt.Errorf("xchacha20poly1305: %d byte chunk", len(in))
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce, tag, ct := in[:ns], in[ns:ns+ts], in[ns+ts:]
	sealed := make([]byte, 0, len(ct)+ts)
	sealed = append(append(sealed, ct...), tag...)
	out, err := aead.Open(nil, nonce, sealed, c.header)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}
	return out, nil
}

func (c xchachaCodec) Encode(in []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, in, c.header)
	ct, tag := sealed[:len(in)], sealed[len(in):]
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, tag...)
	return append(out, ct...), nil
}

func intOpt(cfg CodecConfig, key string, def int) int {
	if v, ok := cfg[key].(float64); ok {
		return int(v)
	}
	if v, ok := cfg[key].(int); ok {
		return v
	}
	return def
}
