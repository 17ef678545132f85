package iocli

import "io"

// IO is the terminal surface the CLI commands talk to.
type IO interface {
	io.Writer
	Println(a ...any)
	Printf(format string, a ...any)
	ReadInput(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
}
