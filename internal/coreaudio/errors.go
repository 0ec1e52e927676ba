package coreaudio

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/errors"
)

const component = "coreaudio"

// Sentinel errors, matched with errors.Is.
var (
	ErrInvalidParameter = errors.New(errors.NewStd("invalid parameter")).
				Component(component).
				Category(errors.CategoryInvalidParameter).
				Build()

	ErrInvalidFormat = errors.New(errors.NewStd("invalid sample format")).
				Component(component).
				Category(errors.CategoryInvalidParameter).
				Build()

	ErrNotSupported = errors.New(errors.NewStd("operation not supported")).
			Component(component).
			Category(errors.CategoryNotSupported).
			Build()

	ErrDeviceUnavailable = errors.New(errors.NewStd("device unavailable")).
				Component(component).
				Category(errors.CategoryDeviceGone).
				Build()

	ErrStreamFatal = errors.New(errors.NewStd("stream failed")).
			Component(component).
			Category(errors.CategoryFatalStream).
			Build()

	ErrAlreadyRegistered = errors.New(errors.NewStd("callback already registered")).
				Component(component).
				Category(errors.CategoryAPIMisuse).
				Build()

	ErrAudioUnit = errors.New(errors.NewStd("audio unit configuration failed")).
			Component(component).
			Category(errors.CategoryAudioUnit).
			Build()

	ErrBufferSizeTimeout = errors.New(errors.NewStd("buffer frame size change not confirmed")).
				Component(component).
				Category(errors.CategoryAudioUnit).
				Build()
)

// unitError wraps a hardware failure during audio unit configuration.
func unitError(operation string, scope hal.Scope, err error) error {
	b := errors.New(ErrAudioUnit).
		Component(component).
		Context("operation", operation).
		Context("scope", scope.String()).
		Context("cause", err.Error())
	var status hal.Status
	if errors.As(err, &status) {
		b = b.StatusContext(int32(status))
	}
	return b.Build()
}

// deviceError wraps a failed device query.
func deviceError(operation string, id hal.ObjectID, scope hal.Scope, err error) error {
	return errors.New(ErrDeviceUnavailable).
		Component(component).
		Context("operation", operation).
		Context("cause", err.Error()).
		DeviceContext(uint32(id), scope.String()).
		Build()
}
