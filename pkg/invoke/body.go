package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// cborDecMode decodes untyped CBOR into JSON-compatible maps.
var cborDecMode cbor.DecMode

func init() {
	var err error
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("invoke: CBOR decoder initialization failed: " + err.Error())
	}
}

// decodeContent removes a gzip or zstd Content-Encoding.
func decodeContent(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "zstd":
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return zr.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// prettyBody renders structured payloads (JSON, CBOR, YAML) as indented
// JSON or YAML and returns anything else as text.
func prettyBody(contentType string, body []byte) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/cbor" || strings.HasSuffix(mediaType, "+cbor"):
		var v any
		if err := cborDecMode.Unmarshal(body, &v); err == nil {
			if out, err := json.MarshalIndent(v, "", "  "); err == nil {
				return string(out)
			}
		}
		return fmt.Sprintf("<%d bytes of undecodable CBOR>", len(body))
	case strings.Contains(mediaType, "yaml"):
		var v any
		if err := yaml.Unmarshal(body, &v); err == nil && v != nil {
			var buf bytes.Buffer
			enc := yaml.NewEncoder(&buf)
			enc.SetIndent(2)
			if err := enc.Encode(v); err == nil {
				return strings.TrimRight(buf.String(), "\n")
			}
		}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || json.Valid(body):
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			return buf.String()
		}
	}
	if !utf8.Valid(body) {
		return strings.ToValidUTF8(string(body), "�")
	}
	return string(body)
}
