// Package fanotify is a typed binding to the Linux fanotify API.
//
// A Group owns the notification descriptor returned by fanotify_init. Marks
// are added with Group.AddMark, and a Decoder turns each read(2) of the group
// into a batch of fixed-size Event records. Every Event hands its File
// descriptor to the caller, who must Release it once. Failures of the
// underlying calls are returned as *Error, tagged with the Op that failed.
//
// Groups created with FAN_REPORT_FID and related flags append variable
// length info records to each event; the decoder rejects those streams
// with ErrRecordLength.
package fanotify
