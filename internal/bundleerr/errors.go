// Package bundleerr defines the typed error kinds raised by the registry,
// dispatcher, and component manager (spec §7). Every kind carries enough
// structured context to be matched with errors.As by callers. Every kind
// except HookRefused and ListenerFailure (which are only logged) has an
// Is* predicate so callers don't need to know the concrete type.
package bundleerr

import (
	"errors"
	"fmt"
)

// BadFilter is raised synchronously when an LDAP filter string fails to
// parse, at add_listener, find_service_references, or requirement
// construction time.
type BadFilter struct {
	Filter string
	Reason string
}

func (e *BadFilter) Error() string {
	return fmt.Sprintf("bad filter %q: %s", e.Filter, e.Reason)
}

// NewBadFilter constructs a BadFilter error.
func NewBadFilter(filter, reason string) *BadFilter {
	return &BadFilter{Filter: filter, Reason: reason}
}

// IsBadFilter reports whether err is (or wraps) a BadFilter.
func IsBadFilter(err error) bool {
	var target *BadFilter
	return errors.As(err, &target)
}

// UnknownService is raised when unregister or get-service is called with a
// reference the registry does not recognize.
type UnknownService struct {
	ServiceID int64
}

func (e *UnknownService) Error() string {
	return fmt.Sprintf("unknown service: id=%d", e.ServiceID)
}

// NewUnknownService constructs an UnknownService error.
func NewUnknownService(id int64) *UnknownService {
	return &UnknownService{ServiceID: id}
}

// IsUnknownService reports whether err is (or wraps) an UnknownService.
func IsUnknownService(err error) bool {
	var target *UnknownService
	return errors.As(err, &target)
}

// MandatoryMissing is raised when a registration is missing a value the
// registry must assign or require (e.g. an empty objectClass list).
type MandatoryMissing struct {
	Field string
}

func (e *MandatoryMissing) Error() string {
	return fmt.Sprintf("mandatory field missing: %s", e.Field)
}

// NewMandatoryMissing constructs a MandatoryMissing error.
func NewMandatoryMissing(field string) *MandatoryMissing {
	return &MandatoryMissing{Field: field}
}

// IsMandatoryMissing reports whether err is (or wraps) a MandatoryMissing.
func IsMandatoryMissing(err error) bool {
	var target *MandatoryMissing
	return errors.As(err, &target)
}

// HookRefused records that an event-listener hook raised while mediating a
// service event. It is logged, never surfaced to the event's originator.
type HookRefused struct {
	HookServiceID int64
	Cause         error
}

func (e *HookRefused) Error() string {
	return fmt.Sprintf("event-listener hook %d refused: %v", e.HookServiceID, e.Cause)
}

func (e *HookRefused) Unwrap() error { return e.Cause }

// NewHookRefused constructs a HookRefused error.
func NewHookRefused(hookServiceID int64, cause error) *HookRefused {
	return &HookRefused{HookServiceID: hookServiceID, Cause: cause}
}

// ListenerFailure records that a listener callback raised during event
// delivery. Logged, never surfaced; delivery continues to other listeners.
type ListenerFailure struct {
	Specification string
	Cause         error
}

func (e *ListenerFailure) Error() string {
	return fmt.Sprintf("listener for %q failed: %v", e.Specification, e.Cause)
}

func (e *ListenerFailure) Unwrap() error { return e.Cause }

// NewListenerFailure constructs a ListenerFailure error.
func NewListenerFailure(spec string, cause error) *ListenerFailure {
	return &ListenerFailure{Specification: spec, Cause: cause}
}

// ComponentCallbackFailure records that a user lifecycle callback
// (Validate/Invalidate/Bind/Unbind/Update/...) raised. The instance is
// marked ERRONEOUS; this error is logged, never propagated to handlers.
type ComponentCallbackFailure struct {
	Instance string
	Callback string
	Cause    error
}

func (e *ComponentCallbackFailure) Error() string {
	return fmt.Sprintf("component %s callback %s failed: %v", e.Instance, e.Callback, e.Cause)
}

func (e *ComponentCallbackFailure) Unwrap() error { return e.Cause }

// NewComponentCallbackFailure constructs a ComponentCallbackFailure error.
func NewComponentCallbackFailure(instance, callback string, cause error) *ComponentCallbackFailure {
	return &ComponentCallbackFailure{Instance: instance, Callback: callback, Cause: cause}
}

// IsComponentCallbackFailure reports whether err is (or wraps) a
// ComponentCallbackFailure.
func IsComponentCallbackFailure(err error) bool {
	var target *ComponentCallbackFailure
	return errors.As(err, &target)
}

// TemporalTimeout is raised to the caller of a temporal-dependency proxy
// when the call outlasted the configured grace window.
type TemporalTimeout struct {
	Field   string
	Timeout string
}

func (e *TemporalTimeout) Error() string {
	return fmt.Sprintf("temporal dependency %q timed out after %s", e.Field, e.Timeout)
}

// NewTemporalTimeout constructs a TemporalTimeout error.
func NewTemporalTimeout(field, timeout string) *TemporalTimeout {
	return &TemporalTimeout{Field: field, Timeout: timeout}
}

// IsTemporalTimeout reports whether err is (or wraps) a TemporalTimeout.
func IsTemporalTimeout(err error) bool {
	var target *TemporalTimeout
	return errors.As(err, &target)
}
