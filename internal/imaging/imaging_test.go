package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/pictureloader/pictureloader/pkg/errors"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBounds(t *testing.T) {
	data := testPNG(t, 64, 32)

	b, err := DecodeBounds(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Bounds{Width: 64, Height: 32, Format: "png"}, b)
}

func TestDecodeBoundsGarbage(t *testing.T) {
	_, err := DecodeBounds(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDecodeFailed))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		reqW, reqH    int
		factor        int
		outW, outH    int
	}{
		{name: "full size", width: 40, height: 30, factor: 1, outW: 40, outH: 30},
		{name: "request larger than image", width: 40, height: 30, reqW: 400, reqH: 300, factor: 1, outW: 40, outH: 30},
		{name: "halved", width: 200, height: 200, reqW: 100, reqH: 100, factor: 2, outW: 100, outH: 100},
		{name: "eighth", width: 1000, height: 1000, reqW: 100, reqH: 100, factor: 8, outW: 125, outH: 125},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pic, err := Decode(testPNG(t, tt.width, tt.height), tt.reqW, tt.reqH)
			require.NoError(t, err)
			assert.Equal(t, tt.factor, pic.SampleFactor)
			assert.Equal(t, tt.outW, pic.Width)
			assert.Equal(t, tt.outH, pic.Height)
			assert.Equal(t, tt.outW, pic.Image.Bounds().Dx())
			assert.Equal(t, tt.outH, pic.Image.Bounds().Dy())
			assert.Equal(t, tt.width, pic.SourceWidth)
			assert.Equal(t, tt.height, pic.SourceHeight)
			assert.Equal(t, "png", pic.Format)
		})
	}
}

func TestDecodeBMP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	pic, err := Decode(buf.Bytes(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "bmp", pic.Format)
	assert.Equal(t, 16, pic.Width)
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h pixels
// with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeLimited(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		maxPixels int64
		wantErr   bool
	}{
		{name: "within limit", data: testPNG(t, 100, 100), maxPixels: 10000},
		{name: "no limit", data: testPNG(t, 100, 100), maxPixels: 0},
		{name: "over limit", data: testPNG(t, 100, 100), maxPixels: 9999, wantErr: true},
		{name: "huge header rejected before decode", data: pngHeader(100000, 100000), maxPixels: 64 << 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pic, err := DecodeLimited(tt.data, 0, 0, tt.maxPixels)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 100, pic.Width)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeDecodeFailed))
			assert.Contains(t, err.Error(), "pixel limit")
		})
	}
}

func TestDownsampleAveragesBlock(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
			} else {
				img.Set(x, y, color.RGBA{A: 0xff})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	pic, err := Decode(buf.Bytes(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, 4, pic.SampleFactor)
	require.Equal(t, 1, pic.Width)

	r, g, b, a := pic.Image.At(0, 0).RGBA()
	assert.InDelta(t, 0x7fff, r, 0x400)
	assert.InDelta(t, 0x7fff, g, 0x400)
	assert.InDelta(t, 0x7fff, b, 0x400)
	assert.Equal(t, uint32(0xffff), a)
}

func TestDecodeTruncated(t *testing.T) {
	data := testPNG(t, 50, 50)
	// Header intact, pixel data cut short.
	_, err := Decode(data[:len(data)/2], 0, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDecodeFailed))
}

func TestWeightKB(t *testing.T) {
	tests := []struct {
		name     string
		pic      *Picture
		expected int64
	}{
		{name: "nil", pic: nil, expected: 1},
		{name: "tiny", pic: &Picture{Width: 1, Height: 1}, expected: 1},
		{name: "exact", pic: &Picture{Width: 16, Height: 16}, expected: 1},
		{name: "rounded up", pic: &Picture{Width: 17, Height: 16}, expected: 2},
		{name: "large", pic: &Picture{Width: 1000, Height: 1000}, expected: 3907},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.pic.WeightKB())
		})
	}
}

func TestEncodePNG(t *testing.T) {
	pic, err := Decode(testPNG(t, 20, 10), 0, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, pic))

	b, err := DecodeBounds(&buf)
	require.NoError(t, err)
	assert.Equal(t, 20, b.Width)

	assert.Error(t, EncodePNG(&buf, nil))
}
