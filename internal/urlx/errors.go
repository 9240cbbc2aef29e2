package urlx

import "errors"

// ErrInvalidURL is returned by Parse when the input cannot be interpreted
// as an absolute http, https, or ftp URL.
var ErrInvalidURL = errors.New("invalid URL")
