package console

import (
	"fmt"
	"io"
	"os"
)

const (
	PictoPlug      = "🔌"
	PictoSatellite = "📡"
	PictoNotebook  = "📒"
	PictoFinish    = "🏁"
	PictoStop      = "🚫"
	PictoGhost     = "👻"
)

// Instrument data goes to out, everything meant for the operator to diag.
var (
	out  io.Writer = os.Stdout
	diag io.Writer = os.Stderr
)

func SetOutput(data, diagnostics io.Writer) {
	out, diag = data, diagnostics
}

func note(prefix, msg string, args []any) {
	_, _ = fmt.Fprintf(diag, "%s %s\n", prefix, fmt.Sprintf(msg, args...))
}

func Errorf(msg string, args ...any) { note(Red("ERROR:"), msg, args) }

func Warnf(msg string, args ...any) { note(Yellow("WARN:"), msg, args) }

func Infof(msg string, args ...any) { note(White("..."), msg, args) }

func PInfof(picto, msg string, args ...any) { note(picto, msg, args) }

func Print(msg string) {
	_, _ = fmt.Fprintln(out, msg)
}

func Printf(msg string, args ...any) {
	_, _ = fmt.Fprintf(out, msg, args...)
}
