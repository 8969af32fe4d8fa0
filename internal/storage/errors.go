package storage

import "errors"

// ErrUnknownSymbol is returned when no state is stored for a symbol
var ErrUnknownSymbol = errors.New("no state stored for symbol")
