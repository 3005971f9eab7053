package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrLimitReached       = fmt.Errorf("list limit reached")

	// Browser automation errors
	ErrPageLoad          = fmt.Errorf("page failed to load")
	ErrElementNotFound   = fmt.Errorf("element not found")
	ErrUnsupportedLayout = fmt.Errorf("operation not supported by page layout")
	ErrAlreadyPresent    = fmt.Errorf("item already present")

	// Run control
	ErrInterrupted = fmt.Errorf("run interrupted")
	ErrRunPanicked = fmt.Errorf("unexpected error during run")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
