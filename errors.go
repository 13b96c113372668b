package fatdisk

import "fmt"

// DriveError is the error taxonomy of the driver. Operations return nil on
// success and io.EOF at the clean end of a directory or file; everything else
// is one of these constants, possibly wrapped with extra context.
type DriveError string

// ErrIO covers block-device read/write failures. The device's own error is
// attached via WrapError and reachable through errors.Unwrap.
const ErrIO = DriveError("input/output error")

// ErrCorrupted covers on-disk structure damage: a long-name checksum that
// does not match its anchor, a cluster chain ending before the recorded file
// size, or a FAT entry pointing outside the valid cluster range.
const ErrCorrupted = DriveError("file system structure corrupted")

// ErrNoVolume means the drive letter in a path is not mounted.
const ErrNoVolume = DriveError("no volume mounted with that drive letter")

// ErrPath means the path string is malformed or a component of it does not
// exist.
const ErrPath = DriveError("malformed path or no such directory entry")

const ErrNotFAT32 = DriveError("not a FAT32 file system")
const ErrNoDisk = DriveError("block device not present")
const ErrDiskFull = DriveError("no free clusters left on the volume")
const ErrReadOnly = DriveError("volume is mounted read-only")
const ErrOutOfRange = DriveError("offset out of range")
const ErrClosed = DriveError("handle is closed")
const ErrTooManyVolumes = DriveError("all drive letters are in use")

func (e DriveError) Error() string {
	return string(e)
}

// WithMessage returns a copy of this error with extra detail appended. The
// result still matches the original constant under errors.Is.
func (e DriveError) WithMessage(message string) error {
	return &driveError{
		message: fmt.Sprintf("%s: %s", string(e), message),
		kind:    e,
	}
}

// WrapError attaches an underlying cause, typically a block-device error.
// errors.Is matches both the constant and the cause.
func (e DriveError) WrapError(err error) error {
	return &driveError{
		message: fmt.Sprintf("%s: %s", string(e), err.Error()),
		kind:    e,
		cause:   err,
	}
}

type driveError struct {
	message string
	kind    DriveError
	cause   error
}

func (e *driveError) Error() string {
	return e.message
}

func (e *driveError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}
