// Package sigimage validates and normalizes signature images submitted as
// base64 data URLs by the signing pages.
package sigimage

import (
	"bytes"
	"encoding/base64"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"folhaponto/internal/core"
)

const (
	MaxBytes = 2 << 20
	MaxWidth = 600
	// MaxDimension bounds the declared width and height, checked before the
	// pixels are decoded.
	MaxDimension = 4000
)

var allowedMimes = []string{"image/png", "image/jpeg", "image/webp"}

func invalid(msg string) error {
	return &core.ValidationError{Field: "assinatura", Msg: msg}
}

// ParseDataURL decodes a base64 data URL and checks that the declared mime
// type is allowed and matches the content.
func ParseDataURL(value string) ([]byte, string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, "", invalid("assinatura é obrigatória")
	}
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", invalid("formato de imagem inválido")
	}
	comma := strings.Index(raw, ",")
	if comma <= 5 {
		return nil, "", invalid("formato de imagem inválido")
	}
	meta, payload := raw[5:comma], raw[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", invalid("imagem deve estar em base64")
	}
	mime := strings.ToLower(strings.TrimSpace(meta[:len(meta)-len(";base64")]))
	allowed := false
	for _, m := range allowedMimes {
		if m == mime {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, "", invalid("tipo de imagem não suportado")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", invalid("não foi possível decodificar a imagem")
	}
	if len(decoded) == 0 {
		return nil, "", invalid("imagem vazia")
	}
	if len(decoded) > MaxBytes {
		return nil, "", invalid("imagem excede 2MB")
	}
	if detected := http.DetectContentType(decoded); !strings.EqualFold(detected, mime) {
		return nil, "", invalid("tipo declarado não corresponde ao conteúdo")
	}
	return decoded, mime, nil
}

// Decode returns the image held by a data URL.
func Decode(value string) (image.Image, error) {
	raw, _, err := ParseDataURL(value)
	if err != nil {
		return nil, err
	}
	return decodeBytes(raw)
}

func decodeBytes(raw []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if cfg, err = webp.DecodeConfig(bytes.NewReader(raw)); err != nil {
			return nil, invalid("não foi possível ler a imagem")
		}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, invalid("dimensões de imagem inválidas")
	}
	if cfg.Width > MaxDimension || cfg.Height > MaxDimension {
		return nil, invalid("dimensões de imagem excedem o limite")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		decoded, webpErr := webp.Decode(bytes.NewReader(raw))
		if webpErr != nil {
			return nil, invalid("não foi possível ler a imagem")
		}
		img = decoded
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, invalid("dimensões de imagem inválidas")
	}
	return img, nil
}

// Normalize decodes a signature data URL, scales it down to MaxWidth when
// wider and re-encodes it as a PNG data URL.
func Normalize(value string) (string, error) {
	img, err := Decode(value)
	if err != nil {
		return "", err
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.NRGBA
	if w > MaxWidth {
		nh := h * MaxWidth / w
		if nh < 1 {
			nh = 1
		}
		dst = image.NewNRGBA(image.Rect(0, 0, MaxWidth, nh))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
		stddraw.Draw(dst, dst.Bounds(), img, b.Min, stddraw.Src)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, dst); err != nil {
		return "", invalid("não foi possível codificar a imagem")
	}
	return EncodePNG(out.Bytes()), nil
}

// EncodePNG wraps PNG bytes in a data URL.
func EncodePNG(raw []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
}

// PNGBytes returns the PNG bytes of a normalized signature, or nil when value
// is empty or not a PNG data URL.
func PNGBytes(value string) []byte {
	raw, mime, err := ParseDataURL(value)
	if err != nil || mime != "image/png" {
		return nil
	}
	return raw
}
