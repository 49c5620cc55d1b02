package handler

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/salonsano/internal/service"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

var (
	captionEngine = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	captionSanitizer = bluemonday.UGCPolicy()
)

type galleryItem struct {
	service.Post
	CaptionHTML template.HTML `json:"captionHtml"`
}

type bookingPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Service string `json:"service"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

// Ping is a liveness probe.
func (a *API) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// ShowSite 返回当前请求的语言、方向与切换链接。
func (a *API) ShowSite(c *gin.Context) {
	pref := a.requestLocale(c)
	c.JSON(http.StatusOK, gin.H{
		"language":  pref.Language,
		"locale":    pref.Locale,
		"htmlLang":  pref.HTMLLang,
		"dir":       pref.Dir,
		"isRTL":     pref.IsRTL(),
		"languages": buildLanguageSwitch(c),
	})
}

// ShowGallery 返回公开展示用的帖子列表，说明文字渲染为净化后的 HTML。
// 没有会话的访问者看到的是不落盘的示例帖子。
func (a *API) ShowGallery(c *gin.Context) {
	posts := service.SeedPosts(time.Now())
	if ws, ok := lookupWorkspace(c); ok {
		_ = ws.Do(func() error {
			posts = ws.Posts.List()
			return nil
		})
	}

	items := make([]galleryItem, 0, len(posts))
	for _, post := range posts {
		items = append(items, galleryItem{Post: post, CaptionHTML: a.renderCaption(post.Alt)})
	}
	c.JSON(http.StatusOK, gin.H{"posts": items})
}

func (a *API) renderCaption(caption string) template.HTML {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := captionEngine.Convert([]byte(caption), &buf); err != nil {
		a.logger.Warn("render caption failed", zap.Error(err))
		return template.HTML(template.HTMLEscapeString(caption))
	}
	return template.HTML(captionSanitizer.SanitizeBytes(buf.Bytes()))
}

// CreateBooking 校验预约表单并返回模拟确认。
func (a *API) CreateBooking(c *gin.Context) {
	var payload bookingPayload
	if !bindJSON(c, &payload, a.text(c, "Invalid request", "בקשה לא תקינה")) {
		return
	}

	confirmation, err := a.bookings.Confirm(service.BookingInput{
		Name:    payload.Name,
		Email:   payload.Email,
		Phone:   payload.Phone,
		Service: payload.Service,
		Date:    payload.Date,
		Time:    payload.Time,
	})
	if err != nil {
		respondError(c, http.StatusBadRequest, a.bookingErrorText(c, err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking": confirmation,
		"message": a.text(c,
			"Thank you! Your appointment request has been received. We will contact you soon to confirm.",
			"תודה! בקשת התור שלך התקבלה. ניצור איתך קשר בקרוב לאישור.",
		),
	})
}

func (a *API) bookingErrorText(c *gin.Context, err error) string {
	switch {
	case errors.Is(err, service.ErrBookingNameRequired):
		return a.text(c, "Please enter your full name", "אנא הזן שם מלא")
	case errors.Is(err, service.ErrBookingContactMissing):
		return a.text(c, "Please enter a phone number or email", "אנא הזן מספר טלפון או אימייל")
	case errors.Is(err, service.ErrBookingEmailInvalid):
		return a.text(c, "Please enter a valid email address", "אנא הזן כתובת אימייל תקינה")
	case errors.Is(err, service.ErrBookingServiceUnknown):
		return a.text(c, "Please select a service", "אנא בחר שירות")
	case errors.Is(err, service.ErrBookingSlotInvalid):
		return a.text(c, "Please select a valid date and time", "אנא בחר תאריך ושעה תקינים")
	default:
		return a.text(c, "Invalid request", "בקשה לא תקינה")
	}
}
