package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/gpib"
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// Fail turns a bus error into an exit error with a hint matching its kind.
// Interrupted runs are not failures.
func Fail(what string, err error) error {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case gpib.IsTimeout(err):
		return Exit(1, "%s: %s (is the instrument addressed correctly and set to trigger on talk?)", what, Red(err))
	case gpib.IsConnectionError(err):
		return Exit(1, "%s: %s (check the bridge address and power)", what, Red(err))
	default:
		return Exit(1, "%s: %s", what, Red(err))
	}
}
