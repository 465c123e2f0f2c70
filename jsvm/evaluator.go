// Package jsvm runs obfuscated player scripts in an embedded JavaScript sandbox.
//
// The sandbox exposes no DOM, no timers, no network and no filesystem. Each
// evaluation gets a fresh goja runtime, so no global state survives between
// scripts. The only additions to the bare ECMAScript environment are a
// console.log that captures output, an atob shim, and an empty process object
// the packer transform substitutes for document.
package jsvm

import (
	"encoding/base64"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/log"
)

// DefaultTimeout is the hard cap on script execution.
const DefaultTimeout = 5 * time.Second

// mediaURLPattern matches the playlist assignment emitted by the unpacked
// dispatcher, e.g. source='https://…/stream.m3u8'.
var mediaURLPattern = regexp.MustCompile(`source=['"]([^'"]+?\.m3u8)`)

// Evaluator executes untrusted player scripts with a bounded run time.
type Evaluator struct {
	timeout time.Duration
}

// New constructs an evaluator with the default 5 second execution cap.
func New() *Evaluator {
	return &Evaluator{timeout: DefaultTimeout}
}

// NewWithTimeout constructs an evaluator with a custom execution cap; used by tests.
func NewWithTimeout(timeout time.Duration) *Evaluator {
	return &Evaluator{timeout: timeout}
}

// Run evaluates the script and returns everything it printed through
// console.log. Script exceptions are appended to the output rather than
// failing the run, matching the tolerance of the dispatcher scripts which
// throw after assigning the source. A timeout is a DeobfuscationError.
func (e *Evaluator) Run(script string) (string, error) {
	vm := goja.New()

	var out strings.Builder
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		out.WriteString(strings.Join(parts, " ") + "\n")
		return goja.Undefined()
	}); err != nil {
		return "", errs.Wrap(errs.DeobfuscationError, err)
	}
	if err := vm.Set("console", console); err != nil {
		return "", errs.Wrap(errs.DeobfuscationError, err)
	}
	if err := vm.Set("process", vm.NewObject()); err != nil {
		return "", errs.Wrap(errs.DeobfuscationError, err)
	}
	if err := vm.Set("atob", atob); err != nil {
		return "", errs.Wrap(errs.DeobfuscationError, err)
	}

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("execution cap exceeded")
	})
	defer timer.Stop()

	_, err := vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", errs.New(errs.DeobfuscationError, "script evaluation timed out after %s", e.timeout)
		}
		// Dispatcher scripts reference browser APIs after emitting the
		// source; keep whatever was captured and note the throw.
		log.Debugf("sandbox script threw: %v", err)
		out.WriteString(err.Error() + "\n")
	}

	return out.String(), nil
}

// ExtractMediaURL scans evaluator output for the first media playlist URL.
func ExtractMediaURL(output string) (string, error) {
	match := mediaURLPattern.FindStringSubmatch(output)
	if match == nil {
		return "", errs.New(errs.DeobfuscationError, "no media playlist URL in unpacked script")
	}
	return match[1], nil
}

// atob decodes base64 the way browsers do, tolerating stripped padding.
func atob(input string) (string, error) {
	trimmed := strings.TrimRight(input, "=")
	decoded, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
