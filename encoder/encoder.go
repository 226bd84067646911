// Package encoder turns binary uploads into text that can be embedded in a
// JSON request body. The encoding is standard base64: lossless and
// uncompressed.
package encoder

import (
	"encoding/base64"

	"github.com/pkg/errors"
)

func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func Decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid encoded input")
	}
	return data, nil
}
