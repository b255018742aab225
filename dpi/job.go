package dpi

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// DefaultJobFile is the argument file read when no command line is
// available.
const DefaultJobFile = "job"

// MaxArgs is the capacity of the argument array filled from a job file.
const MaxArgs = 64

// Job file errors.
var (
	ErrArgsNotEmpty = errors.New("argument array must be empty before reading a job file")
	ErrTooManyArgs  = errors.New("too many arguments in job file")
)

// ReadArgs reads the whitespace-separated tokens of the job file at path
// into *args. The first token stands for the program name, as in a command
// line. *args must be empty on entry.
func ReadArgs(path string, args *[]string) error {
	if len(*args) != 0 {
		return ErrArgsNotEmpty
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open job file: %w", err)
	}
	defer f.Close()

	out := make([]string, 0, MaxArgs)

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		if len(out) == MaxArgs {
			return fmt.Errorf("%s: %w (max %d)", path, ErrTooManyArgs, MaxArgs)
		}
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read job file %s: %w", path, err)
	}

	*args = out

	return nil
}
