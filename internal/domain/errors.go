package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidPrompt     = errors.New("invalid prompt")

	ErrNoCredentialAvailable     = errors.New("no credential available")
	ErrNetworkTimeout            = errors.New("network timeout")
	ErrUpstream                  = errors.New("upstream error")
	ErrNoOperationReturned       = errors.New("no operation returned")
	ErrInvalidCredentialResponse = errors.New("invalid credential response")
	ErrPollTimeout               = errors.New("poll timeout")
	ErrUploadFailure             = errors.New("upload failure")
)

// CountsAgainstCredential reports whether a job failure should be recorded
// on the credential that produced it.
func CountsAgainstCredential(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNoCredentialAvailable) && !errors.Is(err, ErrUploadFailure)
}
