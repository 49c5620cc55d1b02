package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

type postPayload struct {
	Image string `json:"image"`
	URL   string `json:"url"`
	Alt   string `json:"alt"`
}

type postPatchPayload struct {
	Image *string `json:"image"`
	URL   *string `json:"url"`
	Alt   *string `json:"alt"`
}

// GetPosts 返回帖子列表与当前存储用量。
func (a *API) GetPosts(c *gin.Context) {
	ws := workspace(c)
	var (
		posts []service.Post
		usage storage.Usage
	)
	_ = ws.Do(func() error {
		posts = ws.Posts.List()
		usage = ws.Store.Usage()
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"posts": posts, "storage": storageView(usage)})
}

// GetPost 返回单条帖子，供编辑表单使用。
func (a *API) GetPost(c *gin.Context) {
	ws := workspace(c)
	var post service.Post
	err := ws.Do(func() error {
		var getErr error
		post, getErr = ws.Posts.Get(c.Param("id"))
		return getErr
	})
	if err != nil {
		respondError(c, http.StatusNotFound, a.text(c, "Post not found", "הפוסט לא נמצא"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// CreatePost 新增帖子，存储空间不足时返回 507 且不做任何修改。
func (a *API) CreatePost(c *gin.Context) {
	var payload postPayload
	if !bindJSON(c, &payload, a.text(c, "Invalid request", "בקשה לא תקינה")) {
		return
	}

	ws := workspace(c)
	var (
		post  service.Post
		usage storage.Usage
	)
	err := ws.Do(func() error {
		var createErr error
		post, createErr = ws.Posts.Create(service.PostInput{Image: payload.Image, URL: payload.URL, Alt: payload.Alt})
		usage = ws.Store.Usage()
		return createErr
	})
	if err != nil {
		a.respondPostError(c, ws, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "storage": storageView(usage)})
}

// UpdatePost 局部更新帖子。
func (a *API) UpdatePost(c *gin.Context) {
	var payload postPatchPayload
	if !bindJSON(c, &payload, a.text(c, "Invalid request", "בקשה לא תקינה")) {
		return
	}

	ws := workspace(c)
	var (
		post  service.Post
		usage storage.Usage
	)
	err := ws.Do(func() error {
		var updateErr error
		post, updateErr = ws.Posts.Update(c.Param("id"), service.PostPatch{
			Image: payload.Image,
			URL:   payload.URL,
			Alt:   payload.Alt,
		})
		usage = ws.Store.Usage()
		return updateErr
	})
	if err != nil {
		a.respondPostError(c, ws, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "storage": storageView(usage)})
}

// DeletePost 删除帖子，id 不存在时同样返回成功。
func (a *API) DeletePost(c *gin.Context) {
	ws := workspace(c)
	var usage storage.Usage
	_ = ws.Do(func() error {
		ws.Posts.Remove(c.Param("id"))
		usage = ws.Store.Usage()
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"message": a.text(c, "Post deleted", "הפוסט נמחק"), "storage": storageView(usage)})
}

// ClearPosts 删除全部帖子。
func (a *API) ClearPosts(c *gin.Context) {
	ws := workspace(c)
	var usage storage.Usage
	_ = ws.Do(func() error {
		ws.Posts.ClearAll()
		usage = ws.Store.Usage()
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"message": a.text(c, "All posts deleted", "כל הפוסטים נמחקו"), "storage": storageView(usage)})
}

func (a *API) respondPostError(c *gin.Context, ws *service.Workspace, err error) {
	switch {
	case errors.Is(err, service.ErrPostNotFound):
		respondError(c, http.StatusNotFound, a.text(c, "Post not found", "הפוסט לא נמצא"))
	case errors.Is(err, service.ErrPostImageMissing):
		respondError(c, http.StatusBadRequest, a.text(c, "Please add an image", "יש להוסיף תמונה"))
	case errors.Is(err, storage.ErrCapacityExceeded):
		respondError(c, http.StatusInsufficientStorage, a.text(c,
			"Storage error - not enough space. Try a smaller image or delete old posts",
			"שגיאה בשמירה - אין מספיק מקום באחסון. נסה להקטין את התמונה או למחוק פוסטים ישנים",
		))
	default:
		a.logger.Error("save post failed", zap.String("replica", ws.ReplicaID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, a.text(c, "Error saving post", "שגיאה בשמירת הפוסט"))
	}
}
