// Logging support. Errors in the fatal-to-directory and recoverable
// taxonomies (see errors.go) are reported here instead of being thrown
// through public accessors - the caller gets a logged line and a field
// left at its zero value, not a panic or a bubbled-up error.

package pe

import (
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

var (
	PE_DEBUG *bool
)

// Logger is the sink parse errors in the recoverable and
// fatal-to-directory taxonomies are reported to. New uses
// defaultLogger, which forwards to DebugPrint, when
// NewOptions.Logger is nil.
type Logger interface {
	Warnf(format string, v ...interface{})
}

type defaultLoggerT struct{}

func (defaultLoggerT) Warnf(format string, v ...interface{}) {
	DebugPrint(format+"\n", v...)
}

var defaultLogger Logger = defaultLoggerT{}

// DebugPrint prints to stdout only when the PE_DEBUG environment
// variable is set; the check result is cached since reading the
// environment on every call is expensive.
func DebugPrint(fmt_str string, v ...interface{}) {
	if PE_DEBUG == nil {
		for _, x := range os.Environ() {
			if strings.HasPrefix(x, "PE_DEBUG=") {
				value := true
				PE_DEBUG = &value
				break
			}
		}
	}

	if PE_DEBUG == nil {
		value := false
		PE_DEBUG = &value
	}

	if *PE_DEBUG {
		fmt.Printf(fmt_str, v...)
	}
}

// Debug dumps a value's full structure, for interactive debugging.
func Debug(arg interface{}) {
	spew.Dump(arg)
}
