package imagecodec

import (
	"encoding/binary"
	"image"
)

// applyOrientation 根据 JPEG 的 EXIF Orientation 标记旋转或翻转图片，
// 与浏览器绘制到 canvas 前的行为保持一致。非 JPEG 或无标记时原样返回。
func applyOrientation(blob []byte, img image.Image) image.Image {
	orientation, ok := jpegOrientation(blob)
	if !ok {
		return img
	}
	switch orientation {
	case 2:
		return transform(img, false, func(x, y, w, h int) (int, int) { return w - 1 - x, y })
	case 3:
		return transform(img, false, func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y })
	case 4:
		return transform(img, false, func(x, y, w, h int) (int, int) { return x, h - 1 - y })
	case 5:
		return transform(img, true, func(x, y, w, h int) (int, int) { return y, x })
	case 6:
		return transform(img, true, func(x, y, w, h int) (int, int) { return h - 1 - y, x })
	case 7:
		return transform(img, true, func(x, y, w, h int) (int, int) { return h - 1 - y, w - 1 - x })
	case 8:
		return transform(img, true, func(x, y, w, h int) (int, int) { return y, w - 1 - x })
	default:
		return img
	}
}

// transform copies img into a new RGBA, mapping each source pixel (x, y)
// to the destination position returned by dest.
func transform(img image.Image, swap bool, dest func(x, y, w, h int) (int, int)) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	rect := image.Rect(0, 0, w, h)
	if swap {
		rect = image.Rect(0, 0, h, w)
	}
	out := image.NewRGBA(rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := dest(x, y, w, h)
			out.Set(dx, dy, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}

// jpegOrientation 扫描 APP1 段读取 Orientation，返回 (值, 是否找到)。
func jpegOrientation(b []byte) (int, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1] != 0xD8 {
		return 0, false
	}
	i := 2
	for i+4 <= len(b) {
		if b[i] != 0xFF {
			return 0, false
		}
		marker := b[i+1]
		if marker == 0xD9 || marker == 0xDA {
			return 0, false
		}
		segLen := int(binary.BigEndian.Uint16(b[i+2 : i+4]))
		start, end := i+4, i+2+segLen
		if segLen < 2 || end > len(b) {
			return 0, false
		}
		if marker == 0xE1 {
			seg := b[start:end]
			if len(seg) >= 6 && string(seg[:6]) == "Exif\x00\x00" {
				return tiffOrientation(seg[6:])
			}
		}
		i = end
	}
	return 0, false
}

func tiffOrientation(tiff []byte) (int, bool) {
	if len(tiff) < 8 {
		return 0, false
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, false
	}

	ifd := int(order.Uint32(tiff[4:8]))
	if ifd+2 > len(tiff) {
		return 0, false
	}
	count := int(order.Uint16(tiff[ifd : ifd+2]))
	for n := 0; n < count; n++ {
		entry := ifd + 2 + n*12
		if entry+12 > len(tiff) {
			return 0, false
		}
		if order.Uint16(tiff[entry:entry+2]) != 0x0112 {
			continue
		}
		value := int(order.Uint16(tiff[entry+8 : entry+10]))
		if value < 1 || value > 8 {
			return 0, false
		}
		return value, true
	}
	return 0, false
}
