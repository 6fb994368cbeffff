//go:build linux

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Hara602/fanwatch/internal/fanotify"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func errnoCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "errno <init|mark|read|write|close> <code>",
		Short:   "Explain what an errno means for a fanotify call",
		Example: "  fanwatch errno init EPERM\n  fanwatch errno mark 28",
		Args:    cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			op, err := fanotify.ParseOp(args[0])
			if err != nil {
				return err
			}
			code, err := parseErrno(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%+v\n", fanotify.Classify(code, op))
			return nil
		},
	}
}

// parseErrno accepts a number or a name such as "EPERM".
func parseErrno(s string) (unix.Errno, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("errno must be positive, got %d", n)
		}
		return unix.Errno(n), nil
	}
	name := strings.ToUpper(s)
	for n := 1; n < maxErrno; n++ {
		if unix.ErrnoName(unix.Errno(n)) == name {
			return unix.Errno(n), nil
		}
	}
	return 0, fmt.Errorf("unknown errno %q", s)
}

const maxErrno = 4096
