package emvqr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// DefaultImageSize is the edge length in pixels of rendered codes.
const DefaultImageSize = 250

var ErrNoImageData = errors.New("emvqr: no image data")

// RenderPNG writes content as a size x size QR code PNG.
func RenderPNG(w io.Writer, content string, size int) error {
	if size <= 0 {
		size = DefaultImageSize
	}
	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_CHARACTER_SET: "UTF-8",
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(content, gozxing.BarcodeFormat_QR_CODE, size, size, hints)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	return png.Encode(w, matrix)
}

// DecodeImage scans a raster image (png, jpeg or gif) for a QR code.
func DecodeImage(raw []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize image: %w", err)
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("scan qr: %w", err)
	}
	return result.GetText(), nil
}

// DecodeImageData decodes a data URI or bare base64 image and scans it.
func DecodeImageData(s string) (string, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return "", ErrNoImageData
		}
		payload = s[comma+1:]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", ErrNoImageData
	}
	raw, err := decodeBase64(payload)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	return DecodeImage(raw)
}

func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		raw, err := enc.DecodeString(s)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// DataURI renders content as a PNG data URI.
func DataURI(content string, size int) (string, error) {
	var buf bytes.Buffer
	if err := RenderPNG(&buf, content, size); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
