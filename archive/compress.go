package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Compression frames the export stream. The name doubles as the blob
// filename extension so a restore can pick the codec from the name alone.
type Compression interface {
	Name() string
	NewWriter(w io.Writer) io.WriteCloser
	NewReader(r io.Reader) io.Reader
}

// S2 compresses with the s2 format. The default.
type S2 struct{}

func (S2) Name() string                        { return "s2" }
func (S2) NewWriter(w io.Writer) io.WriteCloser { return s2.NewWriter(w) }
func (S2) NewReader(r io.Reader) io.Reader      { return s2.NewReader(r) }

// LZ4 compresses with the lz4 frame format.
type LZ4 struct{}

func (LZ4) Name() string                        { return "lz4" }
func (LZ4) NewWriter(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) }
func (LZ4) NewReader(r io.Reader) io.Reader      { return lz4.NewReader(r) }

// CompressionByName returns the codec for a name, as recorded in an
// export blob's filename.
func CompressionByName(name string) (Compression, error) {
	switch name {
	case "s2":
		return S2{}, nil
	case "lz4":
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("archive: unknown compression %q", name)
	}
}
