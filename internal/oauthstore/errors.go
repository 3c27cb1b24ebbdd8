package oauthstore

import "errors"

// ErrNotFound is returned by every Storage getter when a record is absent
// or has expired. TTL expiry and deletion are deliberately indistinguishable
// to callers: both collapse to "not found".
var ErrNotFound = errors.New("oauthstore: not found")
