// Package checkpoint serializes the live state of a region allocator —
// address space bounds plus every region's range and payload bytes — so
// an address space can be saved, replicated, and restored.
//
// Stream layout, inside a zstd stream: an 8-byte magic, then a framed
// header record, then one framed record per region in address order,
// then a zero-length end marker, then the digest of all framed record
// bytes. Records are length-prefixed protobuf wire data encoded directly
// with protowire.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/garethgeorge/govaspace/internal/regionalloc"
)

var (
	ErrBadMagic       = errors.New("checkpoint: bad magic")
	ErrRecordTooLarge = errors.New("checkpoint: record > 1GiB")
	ErrDigestMismatch = errors.New("checkpoint: digest mismatch")
)

var magic = [8]byte{'G', 'V', 'A', 'S', 'N', 'A', 'P', '1'}

const maxRecordSize = 1 << 30

// Header record fields.
const (
	fieldPageSize = 1
	fieldStart    = 2
	fieldEnd      = 3
	fieldHashAlgo = 4
)

// Region record fields.
const (
	fieldRegionStart   = 1
	fieldRegionEnd     = 2
	fieldRegionPayload = 3
)

type Options struct {
	// Hash selects the stream digest. Zero means HashXXH64.
	Hash HashAlgo
}

func (o Options) hash() HashAlgo {
	if o.Hash == 0 {
		return HashXXH64
	}
	return o.Hash
}

// writeFramed writes a uint32 length prefix followed by rec.
func writeFramed(w io.Writer, rec []byte) error {
	if len(rec) >= maxRecordSize {
		return ErrRecordTooLarge
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(rec)))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(rec)
	return err
}

// readFramed reads one framed record into buf, growing it as needed. A
// zero length marks the end of the record stream and returns (nil, nil).
func readFramed(r io.Reader, buf []byte) ([]byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])
	if size == 0 {
		return nil, nil
	}
	if size >= maxRecordSize {
		return nil, ErrRecordTooLarge
	}
	if cap(buf) < int(size) {
		buf = make([]byte, max(int(size), cap(buf)*2))
	}
	buf = buf[:size]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write serializes the allocator's current state to w.
func Write(w io.Writer, a *regionalloc.Allocator, opts Options) error {
	algo := opts.hash()
	hasher, err := algo.newHasher()
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open zstd writer: %w", err)
	}

	if _, err := zw.Write(magic[:]); err != nil {
		return err
	}

	// Records are hashed exactly as framed.
	hashed := io.MultiWriter(zw, hasher)

	cfg := a.Config()
	var rec []byte
	rec = protowire.AppendTag(rec, fieldPageSize, protowire.VarintType)
	rec = protowire.AppendVarint(rec, cfg.PageSize)
	rec = protowire.AppendTag(rec, fieldStart, protowire.VarintType)
	rec = protowire.AppendVarint(rec, cfg.Start)
	rec = protowire.AppendTag(rec, fieldEnd, protowire.VarintType)
	rec = protowire.AppendVarint(rec, cfg.End)
	rec = protowire.AppendTag(rec, fieldHashAlgo, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(algo))
	if err := writeFramed(hashed, rec); err != nil {
		return err
	}

	for r := range a.Regions() {
		data, err := a.Bytes(r.Ptr)
		if err != nil {
			return fmt.Errorf("read payload of region %#x: %w", r.Start, err)
		}
		rec = rec[:0]
		rec = protowire.AppendTag(rec, fieldRegionStart, protowire.VarintType)
		rec = protowire.AppendVarint(rec, r.Start)
		rec = protowire.AppendTag(rec, fieldRegionEnd, protowire.VarintType)
		rec = protowire.AppendVarint(rec, r.End)
		rec = protowire.AppendTag(rec, fieldRegionPayload, protowire.BytesType)
		rec = protowire.AppendBytes(rec, data)
		if err := writeFramed(hashed, rec); err != nil {
			return err
		}
	}

	// End marker, then the digest; neither is part of the digest.
	if err := writeFramed(zw, nil); err != nil {
		return err
	}
	if _, err := zw.Write(hasher.Sum(nil)); err != nil {
		return err
	}
	return zw.Close()
}

// Read rebuilds an allocator from a checkpoint stream, verifying the
// stream digest. The restored allocator uses heap-backed buffers.
func Read(r io.Reader) (*regionalloc.Allocator, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()

	var gotMagic [8]byte
	if _, err := io.ReadFull(zr, gotMagic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if gotMagic != magic {
		return nil, ErrBadMagic
	}

	buf, err := readFramed(zr, nil)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if buf == nil {
		return nil, fmt.Errorf("read header: unexpected end marker")
	}
	cfg, algo, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	hasher, err := algo.newHasher()
	if err != nil {
		return nil, err
	}
	hashFramed(hasher, buf)

	alloc, err := regionalloc.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("restore allocator: %w", err)
	}

	for {
		buf, err = readFramed(zr, buf)
		if err != nil {
			return nil, fmt.Errorf("read region record: %w", err)
		}
		if buf == nil {
			break
		}
		hashFramed(hasher, buf)
		start, end, payload, err := parseRegion(buf)
		if err != nil {
			return nil, err
		}
		if end <= start || uint64(len(payload)) != end-start {
			return nil, fmt.Errorf("region [%#x, %#x) with %d payload bytes is corrupt", start, end, len(payload))
		}
		ptr, err := alloc.Reserve(start, end-start)
		if err != nil {
			return nil, fmt.Errorf("restore region [%#x, %#x): %w", start, end, err)
		}
		dst, err := alloc.Bytes(ptr)
		if err != nil {
			return nil, fmt.Errorf("restore region [%#x, %#x): %w", start, end, err)
		}
		copy(dst, payload)
	}

	want := hasher.Sum(nil)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(zr, got); err != nil {
		return nil, fmt.Errorf("read digest: %w", err)
	}
	if string(got) != string(want) {
		return nil, ErrDigestMismatch
	}
	return alloc, nil
}

// hashFramed feeds a record to the hasher exactly as writeFramed framed
// it on the wire.
func hashFramed(h io.Writer, rec []byte) {
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(rec)))
	h.Write(sizeBuf[:])
	h.Write(rec)
}

func parseHeader(rec []byte) (regionalloc.Config, HashAlgo, error) {
	var cfg regionalloc.Config
	var algo HashAlgo
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return cfg, 0, fmt.Errorf("header: %w", protowire.ParseError(n))
		}
		rec = rec[n:]
		if typ != protowire.VarintType {
			return cfg, 0, fmt.Errorf("header: field %d has unexpected wire type %d", num, typ)
		}
		v, n := protowire.ConsumeVarint(rec)
		if n < 0 {
			return cfg, 0, fmt.Errorf("header: %w", protowire.ParseError(n))
		}
		rec = rec[n:]
		switch num {
		case fieldPageSize:
			cfg.PageSize = v
		case fieldStart:
			cfg.Start = v
		case fieldEnd:
			cfg.End = v
		case fieldHashAlgo:
			algo = HashAlgo(v)
		}
	}
	return cfg, algo, nil
}

func parseRegion(rec []byte) (start, end uint64, payload []byte, err error) {
	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return 0, 0, nil, fmt.Errorf("region record: %w", protowire.ParseError(n))
		}
		rec = rec[n:]
		switch {
		case num == fieldRegionPayload && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("region record: %w", protowire.ParseError(n))
			}
			rec = rec[n:]
			payload = b
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return 0, 0, nil, fmt.Errorf("region record: %w", protowire.ParseError(n))
			}
			rec = rec[n:]
			switch num {
			case fieldRegionStart:
				start = v
			case fieldRegionEnd:
				end = v
			}
		default:
			return 0, 0, nil, fmt.Errorf("region record: field %d has unexpected wire type %d", num, typ)
		}
	}
	return start, end, payload, nil
}
