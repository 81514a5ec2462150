package pipeline

import (
	"encoding/binary"
	"io"

	"github.com/cratehost/cratehost/internal/apierr"
)

// readPublishBody decodes the Cargo publish wire format: a 4-byte
// little-endian JSON length, the JSON manifest, a 4-byte little-endian
// tarball length, then the tarball bytes (spec.md §4.5).
func readPublishBody(r io.Reader, bodyLimit int64) (manifestJSON, tarball []byte) {
	lr := io.LimitReader(r, bodyLimit+8)

	jsonLen := readUint32LE(lr)
	manifestJSON = readExactly(lr, int64(jsonLen))

	tarLen := readUint32LE(lr)
	tarball = readExactly(lr, int64(tarLen))

	return manifestJSON, tarball
}

func readUint32LE(r io.Reader) uint32 {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		panic(apierr.Invalidf(apierr.CodeBadManifest, "reading length prefix: %v", err))
	}
	return binary.LittleEndian.Uint32(b[:])
}

func readExactly(r io.Reader, n int64) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		panic(apierr.Invalidf(apierr.CodeBodyTooLarge, "reading %d-byte segment: %v", n, err))
	}
	return buf
}
