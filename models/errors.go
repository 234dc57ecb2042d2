package models

import "errors"

// 错误分类：调用方统一用 errors.Is 判断
var (
	ErrGenerationFailure    = errors.New("generation failed")
	ErrPreconditionFailed   = errors.New("precondition failed")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrAuthorizationMissing = errors.New("generation service authorization missing")
	ErrTimeoutExceeded      = errors.New("timeout exceeded")

	ErrNoActiveScript    = errors.New("no active storyboard")
	ErrShotNotFound      = errors.New("shot not found")
	ErrShotBusy          = errors.New("shot already has a request in flight")
	ErrInvalidTransition = errors.New("invalid shot status transition")
	ErrCharacterNotFound = errors.New("character not found")
	ErrItemNotFound      = errors.New("item not found")
	ErrProjectNotFound   = errors.New("project not found")
	ErrFeatureDisabled   = errors.New("feature disabled")
	ErrInvalidField      = errors.New("invalid field")
	ErrTooManyReferences = errors.New("too many reference images")
	ErrStaleResult       = errors.New("result no longer applies to the active storyboard")
)
