package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/imagecodec"
	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

// UploadImage 压缩上传的图片并返回可直接写入帖子的 data URL，此处不做持久化。
func (a *API) UploadImage(c *gin.Context) {
	// 获取上传的文件
	file, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, a.text(c, "Please select a valid image file", "אנא בחר קובץ תמונה תקין"))
		return
	}

	if err := imagecodec.CheckUpload(file.Header.Get("Content-Type"), file.Size); err != nil {
		if file.Size > imagecodec.MaxRawSize {
			respondError(c, http.StatusBadRequest, a.text(c, "File size must be less than 10MB", "גודל הקובץ חייב להיות קטן מ-10MB"))
			return
		}
		respondError(c, http.StatusBadRequest, a.text(c, "Please select a valid image file", "אנא בחר קובץ תמונה תקין"))
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusInternalServerError, a.text(c, "Error processing image", "שגיאה בעיבוד התמונה"))
		return
	}
	defer src.Close()

	blob, err := io.ReadAll(io.LimitReader(src, imagecodec.MaxRawSize+1))
	if err != nil {
		respondError(c, http.StatusInternalServerError, a.text(c, "Error processing image", "שגיאה בעיבוד התמונה"))
		return
	}

	result, err := a.codec.PrepareUpload(c.Request.Context(), blob)
	if err != nil {
		if !errors.Is(err, imagecodec.ErrDecode) {
			a.logger.Warn("compress upload failed", zap.String("file", file.Filename), zap.Error(err))
		}
		respondError(c, http.StatusBadRequest, a.text(c, "Error processing image", "שגיאה בעיבוד התמונה"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image":     result.DataURL,
		"width":     result.Width,
		"height":    result.Height,
		"quality":   result.Quality,
		"size":      result.Len(),
		"sizeText":  storage.FormatSize(int64(result.Len())),
		"escalated": result.Escalated,
	})
}
