// Copyright 2025 James Ross
package backup

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/kgraph/controlplane/internal/apierr"
)

// Encode serializes c as JSON and compresses it, so `POST /admin/backup`
// can stream a compact body (spec.md §6.1 "streams a JSON dump ... using
// chunked transfer"). Grounded on the teacher's
// internal/smart-payload-deduplication/compression.go ZstdCompressor,
// narrowed from its dictionary/stats-tracking encoder pool to a single
// one-shot encode since backups are infrequent, large, whole-body writes
// rather than the hot per-payload path that file was built for.
func Encode(c Container) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, apierr.Unexpected(err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, apierr.Unexpected(err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(raw, nil), nil
}

// EncodeTo streams the compressed JSON container to w, for the admin
// backup HTTP handler's chunked response body.
func EncodeTo(w io.Writer, c Container) error {
	compressed, err := Encode(c)
	if err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// Decode reverses Encode: decompress then unmarshal into a Container.
// Returns an Unprocessable apierr on malformed input (spec.md §7
// "Unprocessable (422): integrity-check failure on upload").
func Decode(compressed []byte) (Container, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Container{}, apierr.Unprocessable("backup_not_zstd", "backup payload is not a valid zstd stream")
	}
	defer decoder.Close()

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return Container{}, apierr.Unprocessable("backup_corrupt", "backup payload failed to decompress: "+err.Error())
	}

	var c Container
	if err := json.Unmarshal(raw, &c); err != nil {
		return Container{}, apierr.Unprocessable("backup_malformed_json", "backup payload is not a valid container: "+err.Error())
	}
	return c, nil
}
