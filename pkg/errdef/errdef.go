// Package errdef defines the error kinds the engine surfaces to callers.
// Kinds are sentinel errors; operations attach exactly one kind to every
// failure so the wire layer can map them to statuses without string matching.
package errdef

import (
	"github.com/cockroachdb/errors"
)

// Kind identifies a class of engine failure.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid-request"
	KindTxnNotFound         Kind = "txn-not-found"
	KindTxnExpired          Kind = "txn-expired"
	KindTxnAlreadyCommitted Kind = "txn-already-committed"
	KindKeyNotFound         Kind = "key-not-found"
	KindVersionNotFound     Kind = "version-not-found"
	KindStorage             Kind = "storage-error"
	KindInternal            Kind = "internal-error"
)

var sentinels = map[Kind]error{
	KindInvalidRequest:      errors.New(string(KindInvalidRequest)),
	KindTxnNotFound:         errors.New(string(KindTxnNotFound)),
	KindTxnExpired:          errors.New(string(KindTxnExpired)),
	KindTxnAlreadyCommitted: errors.New(string(KindTxnAlreadyCommitted)),
	KindKeyNotFound:         errors.New(string(KindKeyNotFound)),
	KindVersionNotFound:     errors.New(string(KindVersionNotFound)),
	KindStorage:             errors.New(string(KindStorage)),
	KindInternal:            errors.New(string(KindInternal)),
}

// kindOrder fixes the order KindOf probes marks in; a wrapped error carries
// exactly one kind so the order only matters for malformed chains.
var kindOrder = []Kind{
	KindInvalidRequest,
	KindTxnNotFound,
	KindTxnExpired,
	KindTxnAlreadyCommitted,
	KindKeyNotFound,
	KindVersionNotFound,
	KindStorage,
	KindInternal,
}

// New returns an error of the given kind with a plain message.
func New(kind Kind, msg string) error {
	return errors.Mark(errors.New(msg), sentinels[kind])
}

// Newf returns an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), sentinels[kind])
}

// Wrap annotates err with msg and marks it with kind. Returns nil when err
// is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), sentinels[kind])
}

// Wrapf annotates err with a formatted message and marks it with kind.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), sentinels[kind])
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	s, ok := sentinels[kind]
	if !ok {
		return false
	}
	return errors.Is(err, s)
}

// KindOf returns the kind carried by err, or KindInternal when err carries
// none. Returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kindOrder {
		if errors.Is(err, sentinels[k]) {
			return k
		}
	}
	return KindInternal
}
