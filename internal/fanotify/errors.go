//go:build linux

package fanotify

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sys/unix"
)

// Op identifies which fanotify call produced an Error.
type Op uint8

const (
	OpInit Op = iota
	OpMark
	OpRead
	OpWrite
	OpClose

	numOps
)

var opNames = [numOps]string{
	OpInit:  "Init",
	OpMark:  "Mark",
	OpRead:  "Read",
	OpWrite: "Write",
	OpClose: "Close",
}

func (o Op) String() string {
	if o >= numOps {
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
	return opNames[o]
}

// ParseOp maps an operation name such as "read" back to its Op.
func ParseOp(name string) (Op, error) {
	for op := Op(0); op < numOps; op++ {
		if strings.EqualFold(name, opNames[op]) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown fanotify operation %q", name)
}

// UnknownDescription is used for codes that an operation's table does not list.
const UnknownDescription = "Unknown error occurred."

var initDescriptions = map[unix.Errno]string{
	unix.EINVAL: "An invalid value was passed in flags or event_f_flags. FAN_ALL_INIT_FLAGS " +
		"(deprecated since Linux 4.20) defines all allowable bits for flags.",
	unix.EMFILE: "The number of fanotify groups for this user exceeds 128, or the per-process " +
		"limit on the number of open file descriptors has been reached.",
	unix.ENOMEM: "The allocation of memory for the notification group failed.",
	unix.ENOSYS: "This kernel does not implement fanotify_init(). The fanotify API is available " +
		"only if the kernel was configured with CONFIG_FANOTIFY.",
	unix.EPERM: "The operation is not permitted because the caller lacks the CAP_SYS_ADMIN " +
		"capability.",
}

var markDescriptions = map[unix.Errno]string{
	unix.EBADF: "An invalid file descriptor was passed in fd, or pathname is relative but dirfd " +
		"is neither AT_FDCWD nor a valid file descriptor.",
	unix.EINVAL: "An invalid value was passed in flags or mask, or fd was not an fanotify file " +
		"descriptor, or the group was opened with FAN_CLASS_NOTIF or identifies objects by file " +
		"handles and mask contains a permission event (FAN_OPEN_PERM or FAN_ACCESS_PERM).",
	unix.ENODEV: "The filesystem object indicated by pathname is not associated with a " +
		"filesystem that supports fsid (e.g. tmpfs). Only returned for groups that identify " +
		"filesystem objects by file handles.",
	unix.ENOENT: "The filesystem object indicated by dirfd and pathname does not exist, or a " +
		"mark was removed from an object which is not marked.",
	unix.ENOMEM: "The necessary memory could not be allocated.",
	unix.ENOSPC: "The number of marks exceeds the limit of 8192 and FAN_UNLIMITED_MARKS was " +
		"not specified when the group was created.",
	unix.ENOSYS: "This kernel does not implement fanotify_mark(). The fanotify API is available " +
		"only if the kernel was configured with CONFIG_FANOTIFY.",
	unix.ENOTDIR: "flags contains FAN_MARK_ONLYDIR, and dirfd and pathname do not specify a " +
		"directory.",
	unix.EOPNOTSUPP: "The object indicated by pathname is on a filesystem that does not support " +
		"the encoding of file handles. Only returned for groups that identify filesystem " +
		"objects by file handles.",
	unix.EXDEV: "The object indicated by pathname resides within a filesystem subvolume " +
		"(e.g. btrfs) which uses a different fsid than its root superblock. Only returned for " +
		"groups that identify filesystem objects by file handles.",
}

var readDescriptions = map[unix.Errno]string{
	unix.EAGAIN: "The descriptor has been marked nonblocking (O_NONBLOCK) and the read would " +
		"block.",
	unix.EBADF:  "fd is not a valid file descriptor or is not open for reading.",
	unix.EFAULT: "buf is outside your accessible address space.",
	unix.EINTR:  "The call was interrupted by a signal before any data was read.",
	unix.EINVAL: "fd is attached to an object which is unsuitable for reading, or the buffer is " +
		"too small to hold a single event.",
	unix.EIO: "A low-level I/O error occurred while reading.",
	unix.EISDIR: "fd refers to a directory.",
	unix.ENOMEM: "The read buffer could not be allocated: the configured buffer length is too " +
		"large or the system is out of memory.",
	unix.EMFILE: "The per-process limit on open file descriptors was reached while creating the " +
		"event descriptor.",
	unix.ENFILE: "The system-wide limit on open files was reached while creating the event " +
		"descriptor.",
	unix.ETXTBSY: "The group was opened with O_RDWR or O_WRONLY in event_f_flags and the event " +
		"concerns a file that is currently being executed.",
}

var writeDescriptions = map[unix.Errno]string{
	unix.EAGAIN: "The descriptor has been marked nonblocking (O_NONBLOCK) and the write would " +
		"block.",
	unix.EBADF:  "fd is not a valid file descriptor or is not open for writing.",
	unix.EFAULT: "buf is outside your accessible address space.",
	unix.EINTR:  "The call was interrupted by a signal before any data was written.",
	unix.EINVAL: "fd is attached to an object which is unsuitable for writing, or the response " +
		"is malformed or names a descriptor that is not awaiting a permission decision.",
	unix.EIO:    "A low-level I/O error occurred while writing.",
	unix.ENOENT: "The descriptor named in the response does not belong to a pending permission " +
		"event of this group.",
	unix.EPERM: "The operation was prevented by a file seal, or the caller may not issue this " +
		"response.",
}

var closeDescriptions = map[unix.Errno]string{
	unix.EBADF:  "fd isn't a valid open file descriptor.",
	unix.EINTR:  "The close() call was interrupted by a signal.",
	unix.EIO:    "An I/O error occurred.",
	unix.ENOSPC: "On NFS, out-of-space errors are reported against a later write, fsync or close.",
	unix.EDQUOT: "On NFS, quota errors are reported against a later write, fsync or close.",
}

// descriptions is indexed by Op; every Op below numOps must have a table.
var descriptions = [numOps]map[unix.Errno]string{
	OpInit:  initDescriptions,
	OpMark:  markDescriptions,
	OpRead:  readDescriptions,
	OpWrite: writeDescriptions,
	OpClose: closeDescriptions,
}

// Error is an OS failure reported by one of the fanotify calls. It is
// immutable once built by Classify.
type Error struct {
	op   Op
	code unix.Errno
}

// Classify tags code with the operation that produced it.
func Classify(code unix.Errno, op Op) *Error {
	return &Error{op: op, code: code}
}

// Op returns the call that failed.
func (e *Error) Op() Op { return e.op }

// Code returns the raw errno.
func (e *Error) Code() unix.Errno { return e.code }

// classifyErr converts err into an *Error when it carries an errno and
// returns it unchanged otherwise.
func classifyErr(err error, op Op) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return Classify(errno, op)
	}
	return err
}

// Description returns the long-form explanation of the code for the op.
func (e *Error) Description() string {
	if e.op < numOps {
		if d, ok := descriptions[e.op][e.code]; ok {
			return d
		}
	}
	return UnknownDescription
}

func (e *Error) Error() string {
	return fmt.Sprintf("fanotify %s: errno %d: %s", e.op, int(e.code), e.Description())
}

func (e *Error) Unwrap() error { return e.code }

// Format prints the short form for %v and %s, and a multi-line diagnostic
// including the OS message for %+v.
func (e *Error) Format(f fmt.State, verb rune) {
	switch {
	case verb == 'v' && f.Flag('+'):
		fmt.Fprintf(f, "Fanotify%sError:\nCode: %d (%s)\nDescription: %s",
			e.op, int(e.code), e.code.Error(), e.Description())
	case verb == 'q':
		fmt.Fprintf(f, "%q", e.Error())
	default:
		io.WriteString(f, e.Error())
	}
}

// IsOp reports whether err is an *Error produced by op.
func IsOp(err error, op Op) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.op == op
}

var (
	// ErrMalformed is wrapped by every decoding failure.
	ErrMalformed = errors.New("malformed fanotify event stream")

	// ErrPartialRecord means the read returned trailing bytes that do not form a whole record.
	ErrPartialRecord = fmt.Errorf("%w: partial record", ErrMalformed)

	// ErrVersionMismatch means a record carries a metadata version this decoder does not speak.
	ErrVersionMismatch = fmt.Errorf("%w: metadata version mismatch", ErrMalformed)

	// ErrRecordLength means a record announces a length other than the fixed header size,
	// which happens when the group was created with FAN_REPORT_* info records.
	ErrRecordLength = fmt.Errorf("%w: unexpected record length", ErrMalformed)

	// ErrReleased is returned when a Descriptor is released a second time.
	ErrReleased = errors.New("descriptor already released")
)
