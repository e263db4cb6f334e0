package sweep

import "errors"

var (
	// ErrNavigation: the feed could not be opened. The campaign did not start.
	ErrNavigation = errors.New("sweep: navigation failed")
	// ErrAuthentication: the session was rejected by the remote site.
	ErrAuthentication = errors.New("sweep: authentication failed")
	// ErrBusy: another campaign owns the browser.
	ErrBusy = errors.New("sweep: a campaign is already running")
	// ErrInvalidRequest: the request failed validation.
	ErrInvalidRequest = errors.New("sweep: invalid request")
)
