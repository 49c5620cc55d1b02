package handler

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
)

func newTestEngine(t *testing.T, cfg service.WorkspaceConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var mu sync.Mutex
	media := make(map[string]*storage.MemoryMedium)
	registry := service.NewRegistry(func(replicaID string) (storage.Medium, error) {
		mu.Lock()
		defer mu.Unlock()
		if m, ok := media[replicaID]; ok {
			return m, nil
		}
		m := storage.NewMemoryMedium(0)
		media[replicaID] = m
		return m, nil
	}, cfg, nil)

	api := NewAPI(registry, nil, nil)
	r := gin.New()
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte("test-secret"))))
	r.Use(api.LocaleMiddleware())
	r.GET("/api/gallery", api.ExistingReplicaMiddleware(), api.ShowGallery)
	r.GET("/api/site", api.ShowSite)
	r.POST("/api/booking", api.CreateBooking)

	admin := r.Group("/admin/api", api.ReplicaMiddleware())
	admin.GET("/session", api.Session)
	admin.POST("/login", api.Login)
	admin.POST("/logout", api.Logout)
	admin.POST("/password", api.ChangePassword)
	admin.POST("/password/reset", api.ResetPassword)
	admin.GET("/debug", api.ShowDebug)
	admin.POST("/debug/clear", api.ClearAllData)

	auth := admin.Group("", api.AuthRequired())
	auth.GET("/dashboard", api.ShowDashboard)
	auth.GET("/posts", api.GetPosts)
	auth.POST("/posts", api.CreatePost)
	auth.DELETE("/posts", api.ClearPosts)
	auth.GET("/posts/:id", api.GetPost)
	auth.PUT("/posts/:id", api.UpdatePost)
	auth.DELETE("/posts/:id", api.DeletePost)
	auth.POST("/upload/image", api.UploadImage)
	return r
}

// browser 在请求之间保留 Cookie，模拟同一个浏览器。
type browser struct {
	t       *testing.T
	engine  *gin.Engine
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, engine *gin.Engine) *browser {
	return &browser{t: t, engine: engine, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.engine.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rr
}

func (b *browser) request(method, path string, body interface{}) *httptest.ResponseRecorder {
	b.t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			b.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func (b *browser) login() {
	b.t.Helper()
	rr := b.request(http.MethodPost, "/admin/api/login", gin.H{"password": service.DefaultCredential})
	if rr.Code != http.StatusOK {
		b.t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestAuthRequiredRejectsAnonymous(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)

	rr := b.request(http.MethodGet, "/admin/api/posts?lang=en", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "Please log in" {
		t.Fatalf("unexpected error message %v", got)
	}
}

func TestLoginMessagesFollowLanguage(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)

	rr := b.request(http.MethodPost, "/admin/api/login", gin.H{"password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "סיסמה שגויה" {
		t.Fatalf("expected hebrew message by default, got %v", got)
	}

	rr = b.request(http.MethodPost, "/admin/api/login?lang=en", gin.H{"password": "wrong"})
	if got := decodeBody(t, rr)["error"]; got != "Incorrect password" {
		t.Fatalf("expected english message, got %v", got)
	}

	// 语言选择写入 Cookie 后持续生效
	rr = b.request(http.MethodPost, "/admin/api/login", gin.H{"password": "wrong"})
	if got := decodeBody(t, rr)["error"]; got != "Incorrect password" {
		t.Fatalf("expected english message from cookie, got %v", got)
	}
}

func TestPostLifecycle(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()

	rr := b.request(http.MethodGet, "/admin/api/posts", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list posts: %d", rr.Code)
	}
	if posts := decodeBody(t, rr)["posts"].([]interface{}); len(posts) != 3 {
		t.Fatalf("expected 3 seeded posts, got %d", len(posts))
	}

	rr = b.request(http.MethodPost, "/admin/api/posts", gin.H{
		"image": "data:image/jpeg;base64,AAAA",
		"url":   "https://www.instagram.com/p/new",
		"alt":   "Fresh look",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create post: %d %s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)["post"].(map[string]interface{})
	id := created["id"].(string)

	rr = b.request(http.MethodGet, "/admin/api/posts", nil)
	posts := decodeBody(t, rr)["posts"].([]interface{})
	if len(posts) != 4 || posts[0].(map[string]interface{})["id"] != id {
		t.Fatalf("expected new post first, got %v", posts)
	}

	rr = b.request(http.MethodPut, "/admin/api/posts/"+id, gin.H{"alt": "Updated"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update post: %d", rr.Code)
	}
	updated := decodeBody(t, rr)["post"].(map[string]interface{})
	if updated["alt"] != "Updated" || updated["url"] != "https://www.instagram.com/p/new" {
		t.Fatalf("unexpected update result %v", updated)
	}

	rr = b.request(http.MethodPut, "/admin/api/posts/missing", gin.H{"alt": "x"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rr.Code)
	}

	rr = b.request(http.MethodDelete, "/admin/api/posts/"+id, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete post: %d", rr.Code)
	}
	rr = b.request(http.MethodGet, "/admin/api/posts/"+id, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected deleted post to be gone, got %d", rr.Code)
	}

	rr = b.request(http.MethodDelete, "/admin/api/posts", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear posts: %d", rr.Code)
	}
	rr = b.request(http.MethodGet, "/admin/api/dashboard", nil)
	if got := decodeBody(t, rr)["posts"]; got != float64(0) {
		t.Fatalf("expected empty dashboard, got %v", got)
	}
}

func TestCreatePostRequiresImage(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()

	rr := b.request(http.MethodPost, "/admin/api/posts", gin.H{"url": "https://example.com"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreatePostOverBudget(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{Budget: 2048})
	b := newBrowser(t, engine)
	b.login()

	rr := b.request(http.MethodPost, "/admin/api/posts?lang=en", gin.H{
		"image": "data:image/jpeg;base64," + strings.Repeat("A", 4096),
		"url":   "https://example.com",
	})
	if rr.Code != http.StatusInsufficientStorage {
		t.Fatalf("expected 507, got %d %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["error"]; got != "Storage error - not enough space. Try a smaller image or delete old posts" {
		t.Fatalf("unexpected message %v", got)
	}

	rr = b.request(http.MethodGet, "/admin/api/posts", nil)
	if posts := decodeBody(t, rr)["posts"].([]interface{}); len(posts) != 3 {
		t.Fatalf("failed create must not change the list, got %d posts", len(posts))
	}
}

func TestChangePasswordValidation(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)

	cases := []struct {
		name    string
		payload gin.H
		status  int
	}{
		{name: "confirm mismatch", payload: gin.H{"currentPassword": service.DefaultCredential, "newPassword": "abcdef", "confirmPassword": "abcdeg"}, status: http.StatusBadRequest},
		{name: "too short", payload: gin.H{"currentPassword": service.DefaultCredential, "newPassword": "abc", "confirmPassword": "abc"}, status: http.StatusBadRequest},
		{name: "wrong current", payload: gin.H{"currentPassword": "nope", "newPassword": "abcdef", "confirmPassword": "abcdef"}, status: http.StatusBadRequest},
		{name: "ok", payload: gin.H{"currentPassword": service.DefaultCredential, "newPassword": "abcdef", "confirmPassword": "abcdef"}, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := b.request(http.MethodPost, "/admin/api/password", tc.payload)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}

	rr := b.request(http.MethodPost, "/admin/api/login", gin.H{"password": service.DefaultCredential})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old password should be rejected, got %d", rr.Code)
	}
	rr = b.request(http.MethodPost, "/admin/api/login", gin.H{"password": "abcdef"})
	if rr.Code != http.StatusOK {
		t.Fatalf("new password should be accepted, got %d", rr.Code)
	}

	rr = b.request(http.MethodPost, "/admin/api/password/reset", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset password: %d", rr.Code)
	}
	rr = b.request(http.MethodGet, "/admin/api/session", nil)
	if decodeBody(t, rr)["authenticated"] != false {
		t.Fatalf("reset must log out")
	}
	b.login()
}

func TestReplicasAreIsolated(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	first := newBrowser(t, engine)
	second := newBrowser(t, engine)

	first.login()
	rr := first.request(http.MethodDelete, "/admin/api/posts", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear posts: %d", rr.Code)
	}

	rr = second.request(http.MethodGet, "/admin/api/posts", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("second browser must not share the login, got %d", rr.Code)
	}
	rr = second.request(http.MethodGet, "/api/gallery", nil)
	if posts := decodeBody(t, rr)["posts"].([]interface{}); len(posts) != 3 {
		t.Fatalf("second browser should still see seeded posts, got %d", len(posts))
	}
}

func TestClearAllDataRestoresDefaults(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()
	b.request(http.MethodDelete, "/admin/api/posts", nil)

	rr := b.request(http.MethodPost, "/admin/api/debug/clear", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear all data: %d", rr.Code)
	}

	rr = b.request(http.MethodGet, "/admin/api/debug", nil)
	debug := decodeBody(t, rr)
	if debug["authenticated"] != false || debug["posts"] != float64(3) || debug["defaultPassword"] != true {
		t.Fatalf("unexpected debug state after reset: %v", debug)
	}
}

func TestGalleryRendersSanitizedCaptions(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()

	rr := b.request(http.MethodPost, "/admin/api/posts", gin.H{
		"image": "data:image/jpeg;base64,AAAA",
		"alt":   "**Keratin** <script>alert(1)</script>",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create post: %d", rr.Code)
	}

	rr = b.request(http.MethodGet, "/api/gallery", nil)
	first := decodeBody(t, rr)["posts"].([]interface{})[0].(map[string]interface{})
	caption := first["captionHtml"].(string)
	if !strings.Contains(caption, "<strong>Keratin</strong>") {
		t.Fatalf("expected rendered emphasis, got %q", caption)
	}
	if strings.Contains(caption, "<script") {
		t.Fatalf("caption must be sanitized, got %q", caption)
	}
	if first["alt"] != "**Keratin** <script>alert(1)</script>" {
		t.Fatalf("stored caption must stay untouched, got %v", first["alt"])
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartImage(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()

	body, contentType := multipartImage(t, "image/png", testPNG(t, 1200, 900))
	req := httptest.NewRequest(http.MethodPost, "/admin/api/upload/image", body)
	req.Header.Set("Content-Type", contentType)
	rr := b.do(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload image: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if !strings.HasPrefix(payload["image"].(string), "data:image/jpeg;base64,") {
		t.Fatalf("expected jpeg data url")
	}
	if payload["width"] != float64(800) || payload["height"] != float64(600) {
		t.Fatalf("expected 800x600, got %vx%v", payload["width"], payload["height"])
	}

	// 上传不应写入存储
	rr = b.request(http.MethodGet, "/admin/api/posts", nil)
	if posts := decodeBody(t, rr)["posts"].([]interface{}); len(posts) != 3 {
		t.Fatalf("upload must not persist anything, got %d posts", len(posts))
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)
	b.login()

	body, contentType := multipartImage(t, "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/admin/api/upload/image?lang=en", body)
	req.Header.Set("Content-Type", contentType)
	rr := b.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "Please select a valid image file" {
		t.Fatalf("unexpected message %v", got)
	}

	body, contentType = multipartImage(t, "image/png", []byte("not really a png"))
	req = httptest.NewRequest(http.MethodPost, "/admin/api/upload/image?lang=en", body)
	req.Header.Set("Content-Type", contentType)
	rr = b.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for undecodable image, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "Error processing image" {
		t.Fatalf("unexpected message %v", got)
	}
}

func TestCreateBooking(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)

	rr := b.request(http.MethodPost, "/api/booking?lang=en", gin.H{"phone": "050-0000000", "service": "consultation"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "Please enter your full name" {
		t.Fatalf("unexpected message %v", got)
	}

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	rr = b.request(http.MethodPost, "/api/booking", gin.H{
		"name":    "Dana",
		"phone":   "050-0000000",
		"service": "keratin_treatment",
		"date":    tomorrow,
		"time":    "10:00",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create booking: %d %s", rr.Code, rr.Body.String())
	}
	booking := decodeBody(t, rr)["booking"].(map[string]interface{})
	if ref, _ := booking["reference"].(string); len(ref) != 8 {
		t.Fatalf("expected 8 character reference, got %v", booking["reference"])
	}
}

func TestShowSiteReportsDirection(t *testing.T) {
	engine := newTestEngine(t, service.WorkspaceConfig{})
	b := newBrowser(t, engine)

	rr := b.request(http.MethodGet, "/api/site", nil)
	site := decodeBody(t, rr)
	if site["language"] != "he" || site["dir"] != "rtl" || site["isRTL"] != true {
		t.Fatalf("expected hebrew rtl default, got %v", site)
	}

	rr = b.request(http.MethodGet, "/api/site?lang=en", nil)
	site = decodeBody(t, rr)
	if site["dir"] != "ltr" {
		t.Fatalf("expected ltr for english, got %v", site)
	}
	languages := site["languages"].(map[string]interface{})
	if languages["he"] != "/api/site?lang=he" {
		t.Fatalf("unexpected language switch link %v", languages["he"])
	}
}
