package qrintake

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNoCode means the frame holds no readable QR code.
var ErrNoCode = errors.New("no qr code in frame")

// ZXingDecoder decodes QR codes with gozxing. The underlying reader keeps
// state between calls, so decodes are serialized.
type ZXingDecoder struct {
	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder returns a decoder tuned for phone screens held up to the
// kiosk camera.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: binarize frame: %v", ErrNoCode, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.reader.Decode(bmp, d.hints)
	d.reader.Reset()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return res.GetText(), nil
}
