// Package qrdecode turns image bytes into the text payloads of the QR
// symbols they contain.
//
// Scan and ScanBase64 report failures through Result. Decode and
// DecodeFromBase64 never fail: any error is logged and collapsed to an empty
// list, so callers have a single "nothing usable" signal.
package qrdecode

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type multiReader interface {
	DecodeMultiple(image *gozxing.BinaryBitmap, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error)
}

// Decoder is stateless apart from its logger and safe for concurrent use.
type Decoder struct {
	logger logging.Logger
}

func NewDecoder(l logging.Logger) *Decoder {
	return &Decoder{logger: l.With("module", "qrdecode")}
}

// Decode returns the QR payloads found in image, in scan order. It never
// returns nil and never fails.
func (d *Decoder) Decode(ctx context.Context, image []byte) []string {
	res := d.Scan(image)
	d.report(ctx, res, len(image))
	return res.PayloadsOrEmpty()
}

// DecodeFromBase64 base64-decodes text and then behaves like Decode.
func (d *Decoder) DecodeFromBase64(ctx context.Context, text string) []string {
	res := d.ScanBase64(text)
	d.report(ctx, res, len(text))
	return res.PayloadsOrEmpty()
}

func (d *Decoder) report(ctx context.Context, res Result, size int) {
	switch {
	case res.Err == nil:
		d.logger.Debug(ctx, "qr decoded", "payloads", len(res.Payloads), "input_bytes", size)
	case errors.Is(res.Err, ErrNoSymbol):
		d.logger.Info(ctx, "qr decode found no symbol", "input_bytes", size)
	default:
		d.logger.Warn(ctx, "qr decode failed", "error", res.Err, "input_bytes", size)
	}
}

// ScanBase64 decodes padded or unpadded standard base64, ignoring
// surrounding whitespace, then scans the bytes.
func (d *Decoder) ScanBase64(text string) Result {
	raw, err := decodeBase64(text)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidBase64, err))
	}
	return d.Scan(raw)
}

func decodeBase64(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty input")
	}
	raw, err := base64.StdEncoding.DecodeString(text)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(text, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, err
}

// Scan runs the full pipeline: image container, binarization, QR detection,
// UTF-8 check. Panics raised by the image or barcode libraries are
// recovered into ErrDecoderFault.
func (d *Decoder) Scan(data []byte) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = fail(fmt.Errorf("%w: %v", ErrDecoderFault, p))
		}
	}()

	if len(data) == 0 {
		return fail(fmt.Errorf("%w: empty input", ErrUnsupportedImage))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrUnsupportedImage, err))
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDecoderFault, err))
	}

	results, err := scanSymbols(bmp)
	if err != nil {
		return fail(err)
	}

	payloads := make([]string, 0, len(results))
	for _, r := range results {
		if r.GetBarcodeFormat() != gozxing.BarcodeFormat_QR_CODE {
			continue
		}
		text := r.GetText()
		if !utf8.ValidString(text) {
			return fail(ErrMalformedPayload)
		}
		payloads = append(payloads, text)
	}
	if len(payloads) == 0 {
		return fail(ErrNoSymbol)
	}
	return ok(payloads)
}

// scanSymbols tries the multi-symbol reader first and falls back to the
// single-symbol reader, which copes better with some low-contrast images.
func scanSymbols(bmp *gozxing.BinaryBitmap) ([]*gozxing.Result, error) {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	var mr multiReader = multiqr.NewQRCodeMultiReader()
	if results, err := mr.DecodeMultiple(bmp, hints); err == nil && len(results) > 0 {
		return results, nil
	}

	r, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSymbol, err)
	}
	return []*gozxing.Result{r}, nil
}
