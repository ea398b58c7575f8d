package ufs

import "golang.org/x/xerrors"

// Code identifies one of the error kinds §7 of the design enumerates. The
// facade and every internal package return errors that can be tested with
// errors.Is against the sentinels below; Code exists so callers that need
// to map an error to an external status code (the bridge does) have
// something stable to switch on.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeNoSuchBlock
	CodeHashMismatch
	CodeNoFreeBlocks
	CodeNameExists
	CodeNotFound
	CodeBadData
	CodeInvalidToken
	CodeInvalidSignature
	CodeTokenExpired
	CodeIOError
)

func (c Code) String() string {
	switch c {
	case CodeNoSuchBlock:
		return "NoSuchBlock"
	case CodeHashMismatch:
		return "HashMismatch"
	case CodeNoFreeBlocks:
		return "NoFreeBlocks"
	case CodeNameExists:
		return "NameExists"
	case CodeNotFound:
		return "NotFound"
	case CodeBadData:
		return "BadData"
	case CodeInvalidToken:
		return "InvalidToken"
	case CodeInvalidSignature:
		return "InvalidSignature"
	case CodeTokenExpired:
		return "TokenExpired"
	case CodeIOError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is a ufs error kind with an optional wrapped cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ufs.ErrNotFound) etc. work: two *Error values match
// if they carry the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError builds an *Error of the given kind, wrapping cause if non-nil.
func NewError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Err: cause}
}

// Sentinels usable with errors.Is(err, ufs.ErrNotFound), matching only on
// Code (a sentinel's Msg is only a short label and its Err is never
// populated).
var (
	ErrNoSuchBlock      = &Error{Code: CodeNoSuchBlock, Msg: "no such block"}
	ErrHashMismatch     = &Error{Code: CodeHashMismatch, Msg: "hash mismatch"}
	ErrNoFreeBlocks     = &Error{Code: CodeNoFreeBlocks, Msg: "no free blocks"}
	ErrNameExists       = &Error{Code: CodeNameExists, Msg: "name exists"}
	ErrNotFound         = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrBadData          = &Error{Code: CodeBadData, Msg: "bad data"}
	ErrInvalidToken     = &Error{Code: CodeInvalidToken, Msg: "invalid token"}
	ErrInvalidSignature = &Error{Code: CodeInvalidSignature, Msg: "invalid signature"}
	ErrTokenExpired     = &Error{Code: CodeTokenExpired, Msg: "token expired"}
)

// Wrap tags an arbitrary I/O failure as CodeIOError. The cause is flattened
// into the message text as "op: cause"; it is not kept as a wrapped error,
// and no call-site frame is recorded.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeIOError, Msg: xerrors.Errorf("%s: %v", op, err).Error()}
}
