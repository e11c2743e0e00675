package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes leaves room for a base64 signature image of sigimage.MaxBytes.
const maxBodyBytes = 4 << 20

var errBadBody = errors.New("corpo da requisição inválido")

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errBadBody
	}
	return nil
}

// pathSegments splits the part of the path after prefix into its non-empty
// segments.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// signatureBody is the body of every route that receives a signature image.
type signatureBody struct {
	Code  string `json:"codigo"`
	Image string `json:"assinaturaBase64"`
}
