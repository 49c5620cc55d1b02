package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/salonsano/internal/imagecodec"
	"github.com/salonsano/internal/locale"
	"github.com/salonsano/internal/service"
	"go.uber.org/zap"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	registry *service.Registry
	codec    *imagecodec.Codec
	bookings *service.BookingService
	logger   *zap.Logger
}

// NewAPI constructs a handler set with shared services.
func NewAPI(registry *service.Registry, codec *imagecodec.Codec, logger *zap.Logger) *API {
	if registry == nil {
		panic("handler: NewAPI called with nil registry")
	}
	if codec == nil {
		codec = imagecodec.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		registry: registry,
		codec:    codec,
		bookings: service.NewBookingService(),
		logger:   logger,
	}
}

// text 根据请求语言选择提示文案。
func (a *API) text(c *gin.Context, english, hebrew string) string {
	return locale.Pick(a.requestLocale(c).Language, english, hebrew)
}
