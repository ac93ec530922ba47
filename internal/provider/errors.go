package provider

import "errors"

// ErrAuthentication means the provider rejected the credentials or the
// refreshed token. Fatal for the call; never retried internally.
var ErrAuthentication = errors.New("provider authentication failed")

// ErrUnavailable means the provider could not be reached or kept answering
// 5xx after the retry budget was spent.
var ErrUnavailable = errors.New("provider unavailable")
