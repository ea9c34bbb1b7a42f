package project

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
)

const chunkValues = 4096

// EncodeVolume writes v as little-endian doubles, all Bx then By then Bz.
func EncodeVolume(w io.Writer, v *field.Volume) error {
	bw := bufio.NewWriterSize(w, 8*chunkValues)
	var buf [8]byte
	for c := 0; c < 3; c++ {
		for _, x := range v.Component(c) {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
			if _, err := bw.Write(buf[:]); err != nil {
				return fmt.Errorf("encode %s: %w", field.ComponentName(c), err)
			}
		}
	}
	return bw.Flush()
}

// DecodeVolume reads a field of dims d written by EncodeVolume. Trailing
// bytes are an error.
func DecodeVolume(r io.Reader, d field.Dims) (*field.Volume, error) {
	v := field.NewVolume(d)
	br := bufio.NewReaderSize(r, 8*chunkValues)
	buf := make([]byte, 8*chunkValues)
	for c := 0; c < 3; c++ {
		dst := v.Component(c)
		for off := 0; off < len(dst); off += chunkValues {
			n := min(chunkValues, len(dst)-off)
			if _, err := io.ReadFull(br, buf[:8*n]); err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
					return nil, field.Invalid("field data ends inside %s for grid %s", field.ComponentName(c), d)
				}
				return nil, fmt.Errorf("decode %s: %w", field.ComponentName(c), err)
			}
			for i := 0; i < n; i++ {
				dst[off+i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
			}
		}
	}
	if _, err := br.ReadByte(); err != io.EOF {
		if err != nil {
			return nil, fmt.Errorf("decode trailer: %w", err)
		}
		return nil, field.Invalid("field data is longer than grid %s", d)
	}
	return v, nil
}

// WriteVolume atomically writes v to name after checking free space.
func (p *Project) WriteVolume(name string, v *field.Volume) error {
	free, err := fsutil.EnsureSpace(p.FS, p.Dir, v.Bytes())
	if errors.Is(err, fsutil.ErrInsufficientSpace) {
		return &field.ResourceError{Dims: v.Dims, What: "storage", Need: v.Bytes(), Limit: free}
	}
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(p.FS, p.Path(name), func(w io.Writer) error {
		return EncodeVolume(w, v)
	})
}

// ReadVolume reads name, checking its size against d first.
func (p *Project) ReadVolume(name string, d field.Dims) (*field.Volume, error) {
	path := p.Path(name)
	info, err := p.FS.Stat(path)
	if err != nil {
		return nil, field.Invalid("missing field file %s", path)
	}
	if info.Size() != d.Bytes() {
		return nil, field.Invalid("%s holds %d bytes, grid %s needs %d", name, info.Size(), d, d.Bytes())
	}
	f, err := p.FS.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	return DecodeVolume(f, d)
}
