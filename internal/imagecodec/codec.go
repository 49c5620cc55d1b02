// Package imagecodec 将上传的图片缩放并重新编码为体积受限的 data URL 字符串。
package imagecodec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// EncodedSizeThreshold 是编码结果的软上限（字符数）。
	EncodedSizeThreshold = 500000
	// MaxRawSize 是处理前允许的原始文件大小。
	MaxRawSize int64 = 10 * 1024 * 1024
	// MaxPixels 是解码前按图片头部声明的尺寸允许的像素总数（约 4000 万）。
	MaxPixels int64 = 40_000_000
	// DefaultMaxEdge 与 DefaultQuality 是未指定参数时的取值。
	DefaultMaxEdge = 800
	DefaultQuality = 0.8

	dataURLPrefix = "data:image/jpeg;base64,"
)

// ErrDecode 表示源数据无法作为图片解码，或在处理前即被拒绝。
var ErrDecode = errors.New("image could not be decoded")

// Result 描述一次压缩的产物。
type Result struct {
	DataURL string
	Width   int
	Height  int
	// Quality 是最终采用的编码质量（0-1）。
	Quality float64
	// Escalated 为 true 时表示首次编码超出阈值，已降低质量重新编码。
	Escalated       bool
	FirstPassLength int
}

// Len returns the encoded length in characters.
func (r Result) Len() int {
	return len(r.DataURL)
}

// Codec 执行纯内存的解码、缩放与编码，不涉及网络或磁盘。
type Codec struct {
	threshold  int
	maxRawSize int64
	maxPixels  int64
}

// New 使用默认阈值构造 Codec。
func New() *Codec {
	return &Codec{threshold: EncodedSizeThreshold, maxRawSize: MaxRawSize, maxPixels: MaxPixels}
}

// CheckUpload 在读取文件内容前校验类型与大小。
func CheckUpload(contentType string, size int64) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return fmt.Errorf("%w: content type %q is not an image", ErrDecode, contentType)
	}
	if size > MaxRawSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrDecode, size, MaxRawSize)
	}
	return nil
}

// Compress 解码 blob，将长边缩放到 maxEdge（不放大），按 quality 编码为 JPEG。
// 若编码结果超过阈值，则以一半的质量再编码一次并返回该结果，不再继续降级。
func (c *Codec) Compress(ctx context.Context, blob []byte, maxEdge int, quality float64) (Result, error) {
	if c == nil {
		panic("imagecodec: use of nil Codec; construct it with imagecodec.New")
	}
	if len(blob) == 0 {
		return Result{}, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if int64(len(blob)) > c.maxRawSize {
		return Result{}, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrDecode, len(blob), c.maxRawSize)
	}
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	quality = normalizeQuality(quality)

	if err := c.checkDimensions(blob); err != nil {
		return Result{}, err
	}

	src, err := decodeAsync(ctx, blob)
	if err != nil {
		return Result{}, err
	}

	bounds := src.Bounds()
	width, height := scaleDimensions(bounds.Dx(), bounds.Dy(), maxEdge)
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Over)
	} else {
		xdraw.CatmullRom.Scale(canvas, canvas.Bounds(), src, bounds, xdraw.Over, nil)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	encoded, err := encodeDataURL(canvas, quality)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		DataURL:         encoded,
		Width:           width,
		Height:          height,
		Quality:         quality,
		FirstPassLength: len(encoded),
	}
	if len(encoded) <= c.threshold {
		return result, nil
	}

	fallback := quality / 2
	lower, err := encodeDataURL(canvas, fallback)
	if err != nil {
		return Result{}, err
	}
	result.DataURL = lower
	result.Quality = fallback
	result.Escalated = true
	return result, nil
}

// PrepareUpload 是后台上传使用的两级流程：先以 800/0.7 压缩，
// 仍超过阈值时改用 600/0.5 重新压缩原图。
func (c *Codec) PrepareUpload(ctx context.Context, blob []byte) (Result, error) {
	result, err := c.Compress(ctx, blob, 800, 0.7)
	if err != nil {
		return Result{}, err
	}
	if result.Len() <= c.threshold {
		return result, nil
	}
	return c.Compress(ctx, blob, 600, 0.5)
}

// checkDimensions 只读取图片头部，在分配像素缓冲区之前拒绝尺寸过大的图片。
func (c *Codec) checkDimensions(blob []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: %s image has empty dimensions", ErrDecode, format)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > c.maxPixels {
		return fmt.Errorf("%w: %s image is %dx%d, above the %d pixel limit", ErrDecode, format, cfg.Width, cfg.Height, c.maxPixels)
	}
	return nil
}

type decodeOutcome struct {
	img image.Image
	err error
}

// decodeAsync 在独立 goroutine 中解码，调用方在 ctx 取消时立即返回。
func decodeAsync(ctx context.Context, blob []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan decodeOutcome, 1)
	go func() {
		img, _, err := image.Decode(bytes.NewReader(blob))
		if err != nil {
			done <- decodeOutcome{err: fmt.Errorf("%w: %v", ErrDecode, err)}
			return
		}
		done <- decodeOutcome{img: applyOrientation(blob, img)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case outcome := <-done:
		return outcome.img, outcome.err
	}
}

func encodeDataURL(img image.Image, quality float64) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// scaleDimensions 保持宽高比，使较长边不超过 maxEdge。
func scaleDimensions(width, height, maxEdge int) (int, int) {
	if width <= 0 || height <= 0 {
		return 1, 1
	}
	if width >= height {
		if width > maxEdge {
			height = int(math.Round(float64(height) * float64(maxEdge) / float64(width)))
			width = maxEdge
		}
	} else if height > maxEdge {
		width = int(math.Round(float64(width) * float64(maxEdge) / float64(height)))
		height = maxEdge
	}
	return max(width, 1), max(height, 1)
}

func normalizeQuality(quality float64) float64 {
	if quality <= 0 || math.IsNaN(quality) {
		return DefaultQuality
	}
	if quality > 1 {
		return 1
	}
	return quality
}

func jpegQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
