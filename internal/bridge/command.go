// Package bridge runs the external acquisition and sorter tooling as a child
// process. Every request is one invocation of the configured bridge command
// with a verb and flags; the JSON or text answer comes back on stdout.
package bridge

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandExecutor defines an interface for executing one child process.
// This abstraction enables unit testing without spawning processes.
type CommandExecutor interface {
	// Run executes the command and returns stdout. Stderr is kept apart so
	// that machine-readable answers are not polluted by progress output.
	Run() (stdout []byte, stderr []byte, err error)

	// SetStdin sets the stdin for the command.
	SetStdin(stdin []byte)
}

// CommandBuilder defines an interface for building child process commands.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command.
func (r *RealCommandExecutor) Run() ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	r.cmd.Stdout = &stdout
	r.cmd.Stderr = &stderr
	err := r.cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// SetStdin sets stdin for the command.
func (r *RealCommandExecutor) SetStdin(stdin []byte) {
	r.cmd.Stdin = bytes.NewReader(stdin)
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext, so
// cancelling the context kills the child.
type RealCommandBuilder struct{}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.CommandContext(ctx, name, args...)}
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Stdout is returned from Run.
	Stdout []byte
	// Stderr is returned from Run.
	Stderr []byte
	// Err is the error to return from Run.
	Err error
	// Stdin holds the stdin data that was set.
	Stdin []byte
	// RunCalled indicates whether Run was called.
	RunCalled bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, []byte, error) {
	m.RunCalled = true
	return m.Stdout, m.Stderr, m.Err
}

// SetStdin records the stdin data.
func (m *MockCommandExecutor) SetStdin(stdin []byte) {
	m.Stdin = stdin
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// MockCommandBuilder implements CommandBuilder for testing.
type MockCommandBuilder struct {
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// ExecutorFactory creates executors based on the command. When nil an
	// empty MockCommandExecutor is returned.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// BuildCommand records the command and returns a mock executor.
func (b *MockCommandBuilder) BuildCommand(_ context.Context, name string, args ...string) CommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: args})
	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	return &MockCommandExecutor{}
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}
