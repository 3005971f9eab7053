package transport

import "net/http"

var statusMessages = map[int]string{
	200: "Success",
	201: "Success - new resource created",
	204: "Success - no content to return",
	400: "Bad Request - request couldn't be parsed",
	401: "Unauthorized - OAuth must be provided",
	403: "Forbidden - invalid API key or unapproved app",
	404: "Not Found - method exists, but no record found",
	405: "Method Not Found - method doesn't exist",
	408: "Request Timeout",
	409: "Conflict - resource already created",
	412: "Precondition Failed - use application/json content type",
	420: "Account Limit Exceeded - list count, item count, etc",
	422: "Unprocessable Entity - validation errors",
	423: "Locked User Account - have the user contact support",
	425: "Too Early",
	426: "VIP Only - user must upgrade to VIP",
	429: "Rate Limit Exceeded",
	500: "Server Error - please open a support ticket",
	502: "Service Unavailable - server overloaded (try again in 30s)",
	503: "Service Unavailable - server overloaded (try again in 30s)",
	504: "Service Unavailable - server overloaded (try again in 30s)",
	520: "Service Unavailable - Cloudflare error",
	521: "Service Unavailable - Cloudflare error",
	522: "Service Unavailable - Cloudflare error",
}

// StatusMessage explains an HTTP status in terms of the tracking APIs.
// Unknown codes fall back to the standard reason phrase.
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Unknown error"
}

// IsRetryableStatus reports whether code is worth another attempt.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	case 520, 521, 522:
		return true
	}
	return code >= 500 && code <= 504
}

// IsSuccess reports whether code is 2xx.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
