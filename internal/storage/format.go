package storage

import "github.com/dustin/go-humanize"

// FormatSize 将字节数格式化为便于阅读的文本，例如 "1.5 MiB"。
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}
