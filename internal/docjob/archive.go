package docjob

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/cratehost/cratehost/internal/blobstore"
)

// unpackSite streams archive (a tar of a rendered documentation site, per
// spec.md §4.7) into blob storage under docs/{name}/{version}/{target}/…,
// one blob per file. Archives arriving tar.zst-encoded are decompressed
// first; the teacher never compresses anything, but the wider pack already
// depends on klauspost/compress (bureau-foundation), so that is this
// repo's idiom for the concern too (see DESIGN.md).
func unpackSite(ctx context.Context, store blobstore.Store, name, version, target string, archive []byte, compressed bool) error {
	r := io.Reader(bytes.NewReader(archive))
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		key := blobstore.DocsKey(name, version, target, hdr.Name)
		if err := store.Put(ctx, key, tr); err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
	}
}
