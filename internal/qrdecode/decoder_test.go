package qrdecode

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/ken-lyk/qrkeeper/internal/logging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 256, 256, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, matrix))
	return buf.Bytes()
}

func blankJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(10, 10, color.Black)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestDecoder() *Decoder {
	return NewDecoder(logging.Nop())
}

func TestDecode_SingleSymbol(t *testing.T) {
	d := newTestDecoder()

	got := d.Decode(context.Background(), qrPNG(t, "HELLO"))

	assert.Equal(t, []string{"HELLO"}, got)
}

// qrSheetPNG places one 200px symbol per text side by side on a white canvas.
func qrSheetPNG(t *testing.T, texts ...string) []byte {
	t.Helper()
	const size, gap = 200, 40
	canvas := image.NewGray(image.Rect(0, 0, len(texts)*(size+gap)+gap, size+2*gap))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for i, text := range texts {
		matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
		require.NoError(t, err)
		at := image.Pt(gap+i*(size+gap), gap)
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(image.Pt(size, size))}, matrix, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, canvas))
	return buf.Bytes()
}

func TestDecode_MultipleSymbols(t *testing.T) {
	d := newTestDecoder()

	got := d.Decode(context.Background(), qrSheetPNG(t, "FIRST", "SECOND"))

	assert.ElementsMatch(t, []string{"FIRST", "SECOND"}, got)
}

type ctxKey struct{}

type recordingLogger struct {
	seen []context.Context
}

func (l *recordingLogger) log(ctx context.Context) { l.seen = append(l.seen, ctx) }

func (l *recordingLogger) Debug(ctx context.Context, _ string, _ ...any) { l.log(ctx) }
func (l *recordingLogger) Info(ctx context.Context, _ string, _ ...any)  { l.log(ctx) }
func (l *recordingLogger) Warn(ctx context.Context, _ string, _ ...any)  { l.log(ctx) }
func (l *recordingLogger) Error(ctx context.Context, _ string, _ ...any) { l.log(ctx) }
func (l *recordingLogger) With(_ ...any) logging.Logger                  { return l }

func TestDecode_LogsWithCallerContext(t *testing.T) {
	rl := &recordingLogger{}
	d := NewDecoder(rl)
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")

	d.Decode(ctx, []byte("garbage"))
	d.DecodeFromBase64(ctx, "###")
	d.Decode(ctx, qrPNG(t, "HELLO"))

	require.Len(t, rl.seen, 3)
	for _, got := range rl.seen {
		assert.Equal(t, "req-1", got.Value(ctxKey{}))
	}
}

func TestDecode_UTF8Payload(t *testing.T) {
	d := newTestDecoder()

	got := d.Decode(context.Background(), qrPNG(t, "héllo wörld"))

	assert.Equal(t, []string{"héllo wörld"}, got)
}

func TestDecode_NeverFails(t *testing.T) {
	d := newTestDecoder()

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "nil", in: nil},
		{name: "not an image", in: []byte("definitely not a png")},
		{name: "truncated png", in: qrPNG(t, "HELLO")[:40]},
		{name: "image without symbol", in: blankJPEG(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			require.NotPanics(t, func() { got = d.Decode(context.Background(), tt.in) })
			require.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestScan_ClassifiesFailures(t *testing.T) {
	d := newTestDecoder()

	res := d.Scan([]byte("garbage"))
	assert.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrUnsupportedImage), "got %v", res.Err)

	res = d.Scan(blankJPEG(t))
	assert.True(t, errors.Is(res.Err, ErrNoSymbol), "got %v", res.Err)

	res = d.ScanBase64("###")
	assert.True(t, errors.Is(res.Err, ErrInvalidBase64), "got %v", res.Err)

	res = d.Scan(qrPNG(t, "abc123"))
	require.True(t, res.OK(), "unexpected error %v", res.Err)
	assert.Equal(t, []string{"abc123"}, res.Payloads)
}

func TestDecodeFromBase64(t *testing.T) {
	d := newTestDecoder()
	img := qrPNG(t, "HELLO")

	t.Run("padded", func(t *testing.T) {
		assert.Equal(t, []string{"HELLO"}, d.DecodeFromBase64(context.Background(), base64.StdEncoding.EncodeToString(img)))
	})

	t.Run("unpadded", func(t *testing.T) {
		assert.Equal(t, []string{"HELLO"}, d.DecodeFromBase64(context.Background(), base64.RawStdEncoding.EncodeToString(img)))
	})

	t.Run("surrounding whitespace", func(t *testing.T) {
		assert.Equal(t, []string{"HELLO"}, d.DecodeFromBase64(context.Background(), "\n "+base64.StdEncoding.EncodeToString(img)+"\n"))
	})

	t.Run("malformed", func(t *testing.T) {
		got := d.DecodeFromBase64(context.Background(), "###")
		require.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, d.DecodeFromBase64(context.Background(), ""))
	})

	t.Run("valid base64 of non-image", func(t *testing.T) {
		assert.Empty(t, d.DecodeFromBase64(context.Background(), base64.StdEncoding.EncodeToString([]byte("hello"))))
	})
}

func TestResult_PayloadsOrEmpty(t *testing.T) {
	assert.Equal(t, []string{}, fail(ErrNoSymbol).PayloadsOrEmpty())
	assert.Equal(t, []string{}, Result{}.PayloadsOrEmpty())
	assert.Equal(t, []string{"a", "b"}, ok([]string{"a", "b"}).PayloadsOrEmpty())
}
