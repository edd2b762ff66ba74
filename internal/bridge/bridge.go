package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Verbs understood by the bridge command.
const (
	VerbExportStream      = "export-stream"
	VerbDefaultParams     = "default-params"
	VerbParamDescriptions = "param-descriptions"
	VerbRunSorter         = "run-sorter"
)

// DefaultCommand is used when no bridge command is configured.
var DefaultCommand = []string{"python", "-m", "spikesort_bridge"}

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

// Error reports a failed bridge invocation with the child's stderr.
type Error struct {
	Verb   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("bridge %s: %v", e.Verb, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Bridge invokes the external tooling.
type Bridge struct {
	Command []string
	Builder CommandBuilder
	Logger  Logger
}

// New creates a Bridge for command. An empty command selects DefaultCommand.
func New(command []string) *Bridge {
	if len(command) == 0 {
		command = DefaultCommand
	}
	cmd := make([]string, len(command))
	copy(cmd, command)
	return &Bridge{Command: cmd, Builder: RealCommandBuilder{}, Logger: nopLogger{}}
}

// SetLogger sets the debug logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.Logger = logger
	}
}

// Run executes "<command...> verb args..." and returns its stdout.
func (b *Bridge) Run(ctx context.Context, verb string, args ...string) ([]byte, error) {
	if len(b.Command) == 0 {
		return nil, &Error{Verb: verb, Err: errors.New("no bridge command configured")}
	}
	argv := append(append(append([]string{}, b.Command[1:]...), verb), args...)
	logger := b.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	logger.Debugf("Executing: %s %s", b.Command[0], strings.Join(argv, " "))

	stdout, stderr, err := b.Builder.BuildCommand(ctx, b.Command[0], argv...).Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		logger.Debugf("Command failed: %v, stderr: %s", err, stderr)
		return nil, &Error{Verb: verb, Stderr: string(stderr), Err: err}
	}
	return stdout, nil
}
