//go:build !darwin

package transport

// Just implement the Dial and KernelVersion pair so that everything
// else (i.e. replaying recordings) keeps working on other platforms.
func Dial(string) (Transport, error) { return nil, ErrUnsupported }
func KernelVersion() (string, error) { return "", ErrUnsupported }
