package domain

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MessageKind tags the closed set of messages crossing the engine/host boundary.
type MessageKind uint8

const (
	TimerMessageKind MessageKind = iota + 1
	TrackerDetectedMessageKind
	CacheStoreMessageKind
)

func (k MessageKind) String() string {
	switch k {
	case TimerMessageKind:
		return "timerMessage"
	case TrackerDetectedMessageKind:
		return "trackerDetectedMessage"
	case CacheStoreMessageKind:
		return "cacheMessage"
	default:
		return fmt.Sprintf("MessageKind(%d)", k)
	}
}

// ErrInvalidMessage wraps every schema violation reported by Validate.
var ErrInvalidMessage = errors.New("invalid host message")

// HostMessage is implemented only by the message types in this file.
type HostMessage interface {
	Kind() MessageKind
	Validate() error
	hostMessage()
}

// TimerMessage carries a free-form log/timing mark.
type TimerMessage struct {
	Text string `validate:"required"`
}

// TrackerDetectedMessage reports one detection to the host.
type TrackerDetectedMessage struct {
	TrackerDetection
}

// CacheStoreMessage asks the host to seed the parsed-list cache.
type CacheStoreMessage struct {
	Name string `json:"name" validate:"required,cache_name"`
	Data string `json:"data" validate:"required"`
}

func (TimerMessage) Kind() MessageKind           { return TimerMessageKind }
func (TrackerDetectedMessage) Kind() MessageKind { return TrackerDetectedMessageKind }
func (CacheStoreMessage) Kind() MessageKind      { return CacheStoreMessageKind }

func (TimerMessage) hostMessage()           {}
func (TrackerDetectedMessage) hostMessage() {}
func (CacheStoreMessage) hostMessage()      {}

func (m TimerMessage) Validate() error           { return validateMessage(m) }
func (m TrackerDetectedMessage) Validate() error { return validateMessage(m) }
func (m CacheStoreMessage) Validate() error      { return validateMessage(m) }

var messageValidator = newMessageValidator()

func newMessageValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// registration only fails for an empty tag or a nil func
	_ = v.RegisterValidation("cache_name", func(fl validator.FieldLevel) bool {
		k, err := ParseListKind(fl.Field().String())
		return err == nil && k.IsFilterList()
	})
	return v
}

func validateMessage(m HostMessage) error {
	if err := messageValidator.Struct(m); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, m.Kind(), err)
	}
	return nil
}
