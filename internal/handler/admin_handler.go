package handler

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
	"go.uber.org/zap"
)

// minPasswordLength 是修改口令时界面层要求的最小长度，核心层不做此校验。
const minPasswordLength = 6

type loginPayload struct {
	Password string `json:"password"`
}

type passwordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Session 返回当前浏览器的登录状态。
func (a *API) Session(c *gin.Context) {
	ws := workspace(c)
	var authenticated bool
	_ = ws.Do(func() error {
		authenticated = ws.Auth.IsAuthenticated()
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"authenticated": authenticated})
}

// Login 校验后台口令并设置会话标记。
func (a *API) Login(c *gin.Context) {
	var payload loginPayload
	if !bindJSON(c, &payload, a.text(c, "Invalid request", "בקשה לא תקינה")) {
		return
	}

	ws := workspace(c)
	err := ws.Do(func() error { return ws.Auth.Login(payload.Password) })
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"authenticated": true})
	case errors.Is(err, service.ErrCredentialMismatch):
		respondError(c, http.StatusUnauthorized, a.text(c, "Incorrect password", "סיסמה שגויה"))
	default:
		a.logger.Error("login failed", zap.String("replica", ws.ReplicaID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, a.text(c, "Login failed", "ההתחברות נכשלה"))
	}
}

// Logout 清除会话标记。
func (a *API) Logout(c *gin.Context) {
	ws := workspace(c)
	_ = ws.Do(func() error {
		ws.Auth.Logout()
		return nil
	})
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

// ChangePassword 在界面层校验确认与长度后修改口令。
func (a *API) ChangePassword(c *gin.Context) {
	var payload passwordPayload
	if !bindJSON(c, &payload, a.text(c, "Invalid request", "בקשה לא תקינה")) {
		return
	}
	if payload.NewPassword != payload.ConfirmPassword {
		respondError(c, http.StatusBadRequest, a.text(c, "New passwords don't match", "הסיסמאות החדשות אינן תואמות"))
		return
	}
	if utf8.RuneCountInString(payload.NewPassword) < minPasswordLength {
		respondError(c, http.StatusBadRequest, a.text(c, "New password must be at least 6 characters", "הסיסמה החדשה חייבת להכיל לפחות 6 תווים"))
		return
	}

	ws := workspace(c)
	err := ws.Do(func() error { return ws.Auth.ChangeCredential(payload.CurrentPassword, payload.NewPassword) })
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": a.text(c, "Password changed successfully", "הסיסמה שונתה בהצלחה")})
	case errors.Is(err, service.ErrCredentialMismatch):
		respondError(c, http.StatusBadRequest, a.text(c, "Current password is incorrect", "הסיסמה הנוכחית שגויה"))
	default:
		a.logger.Error("change password failed", zap.String("replica", ws.ReplicaID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, a.text(c, "Password could not be saved", "שמירת הסיסמה נכשלה"))
	}
}

// ResetPassword 恢复默认口令并登出，无需登录。
func (a *API) ResetPassword(c *gin.Context) {
	ws := workspace(c)
	_ = ws.Do(func() error {
		ws.Auth.ResetToDefault()
		return nil
	})
	a.logger.Info("credential reset to default", zap.String("replica", ws.ReplicaID))
	c.JSON(http.StatusOK, gin.H{"message": a.text(c, "Password reset to default", "הסיסמה אופסה לברירת המחדל")})
}

// AuthRequired 拒绝未登录的请求。
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws := workspace(c)
		var authenticated bool
		_ = ws.Do(func() error {
			authenticated = ws.Auth.IsAuthenticated()
			return nil
		})
		if !authenticated {
			respondError(c, http.StatusUnauthorized, a.text(c, "Please log in", "יש להתחבר"))
			return
		}
		c.Next()
	}
}

// ShowDashboard 返回后台概览：帖子数量与存储用量。
func (a *API) ShowDashboard(c *gin.Context) {
	ws := workspace(c)
	var (
		count int
		usage storage.Usage
	)
	_ = ws.Do(func() error {
		count = len(ws.Posts.List())
		usage = ws.Store.Usage()
		return nil
	})

	c.JSON(http.StatusOK, gin.H{
		"title":   a.text(c, "Posts Management", "ניהול פוסטים"),
		"posts":   count,
		"storage": storageView(usage),
	})
}

// ShowDebug 列出本应用的存储键，不返回口令内容。
func (a *API) ShowDebug(c *gin.Context) {
	ws := workspace(c)
	var payload gin.H
	_ = ws.Do(func() error {
		payload = gin.H{
			"replica":         ws.ReplicaID,
			"authenticated":   ws.Auth.IsAuthenticated(),
			"defaultPassword": ws.Auth.UsingDefault(),
			"posts":           len(ws.Posts.List()),
			"keys":            ws.Store.Keys(service.KeyPrefix),
		}
		return nil
	})
	c.JSON(http.StatusOK, payload)
}

// ClearAllData 删除该浏览器下本应用的全部数据并重新初始化。
func (a *API) ClearAllData(c *gin.Context) {
	ws := workspace(c)
	if _, err := a.registry.Reset(ws.ReplicaID); err != nil {
		a.logger.Error("reset workspace failed", zap.String("replica", ws.ReplicaID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, a.text(c, "Data could not be cleared", "מחיקת הנתונים נכשלה"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": a.text(c, "All salon data cleared", "כל נתוני הסלון נמחקו")})
}

func storageView(usage storage.Usage) gin.H {
	percent := usage.Percent()
	level := "green"
	switch {
	case percent > 80:
		level = "red"
	case percent > 60:
		level = "yellow"
	}
	return gin.H{
		"used":      usage.Used,
		"available": usage.Available,
		"total":     usage.Total(),
		"percent":   min(percent, 100),
		"level":     level,
		"usedText":  storage.FormatSize(usage.Used),
		"totalText": storage.FormatSize(usage.Total()),
	}
}
