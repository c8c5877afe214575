package hub

import "errors"

var errNotFound = errors.New("Not found")
