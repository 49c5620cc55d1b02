package service

import (
	"errors"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookingNameRequired   = errors.New("booking name is required")
	ErrBookingContactMissing = errors.New("booking email or phone is required")
	ErrBookingEmailInvalid   = errors.New("booking email is invalid")
	ErrBookingServiceUnknown = errors.New("booking service is unknown")
	ErrBookingSlotInvalid    = errors.New("booking date or time is invalid")
)

// BookingServices 列出可预约的项目。
var BookingServices = []string{
	"keratin_treatment",
	"hair_straightening",
	"deep_conditioning",
	"consultation",
	"touch_up_session",
}

// BookingTimeSlots 是每天可选的时段。
var BookingTimeSlots = []string{"09:00", "10:00", "11:00", "12:00", "14:00", "15:00", "16:00", "17:00", "18:00"}

// BookingInput represents fields submitted by the booking form.
type BookingInput struct {
	Name    string
	Email   string
	Phone   string
	Service string
	Date    string
	Time    string
}

// BookingConfirmation 是模拟的预约确认，不会被保存。
type BookingConfirmation struct {
	Reference string    `json:"reference"`
	Name      string    `json:"name"`
	Service   string    `json:"service"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"createdAt"`
}

// BookingService 校验预约表单并返回模拟确认，没有任何后端持久化。
type BookingService struct {
	now func() time.Time
}

// NewBookingService creates a BookingService instance.
func NewBookingService() *BookingService {
	return &BookingService{now: time.Now}
}

// Confirm validates the input and returns a confirmation with a fresh reference.
func (s *BookingService) Confirm(input BookingInput) (BookingConfirmation, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	phone := strings.TrimSpace(input.Phone)
	serviceKey := strings.ToLower(strings.TrimSpace(input.Service))
	date := strings.TrimSpace(input.Date)
	slot := strings.TrimSpace(input.Time)

	if name == "" {
		return BookingConfirmation{}, ErrBookingNameRequired
	}
	if email == "" && phone == "" {
		return BookingConfirmation{}, ErrBookingContactMissing
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return BookingConfirmation{}, ErrBookingEmailInvalid
		}
	}
	if !slices.Contains(BookingServices, serviceKey) {
		return BookingConfirmation{}, ErrBookingServiceUnknown
	}

	now := s.now()
	day, err := time.ParseInLocation("2006-01-02", date, now.Location())
	if err != nil || !slices.Contains(BookingTimeSlots, slot) {
		return BookingConfirmation{}, ErrBookingSlotInvalid
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if day.Before(today) {
		return BookingConfirmation{}, ErrBookingSlotInvalid
	}

	return BookingConfirmation{
		Reference: strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0]),
		Name:      name,
		Service:   serviceKey,
		Date:      date,
		Time:      slot,
		CreatedAt: now,
	}, nil
}
