package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Invocation is an argv launch of the external engine. No shell is involved.
type Invocation struct {
	Program string
	Args    []string
	Dir     string
	LogPath string
}

func (i Invocation) String() string {
	return i.Program + " " + strings.Join(i.Args, " ")
}

// CommandBuilder turns a job's input paths into an engine invocation that calls
// EntryPoint with each path as a quoted positional string argument.
type CommandBuilder struct {
	Program    string
	ScriptDir  string
	EntryPoint string
	ExtraArgs  []string
}

// NewCommandBuilder resolves the script directory against the working directory.
func NewCommandBuilder(e EngineConfig) (*CommandBuilder, error) {
	dir, err := filepath.Abs(e.ScriptDir)
	if err != nil {
		return nil, &ConfigurationError{Reason: "resolve script dir", Err: err}
	}
	b := &CommandBuilder{
		Program:    e.Program,
		ScriptDir:  dir,
		EntryPoint: e.EntryPoint,
		ExtraArgs:  append([]string(nil), e.Args...),
	}
	if err := checkQuotable(dir); err != nil {
		return nil, &ConfigurationError{Reason: "script dir", Err: err}
	}
	return b, nil
}

// ScriptPath is the entry-point file the engine loads.
func (b *CommandBuilder) ScriptPath() string {
	return filepath.Join(b.ScriptDir, b.EntryPoint+".m")
}

// CheckScript fails with a ConfigurationError when the entry-point file is absent.
func (b *CommandBuilder) CheckScript() error {
	if _, err := os.Stat(b.ScriptPath()); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("script file not found: %s", b.ScriptPath()), Err: err}
	}
	return nil
}

// Build keeps the role order of inputs; the engine is positional.
func (b *CommandBuilder) Build(inputs []string) (Invocation, error) {
	var expr strings.Builder
	fmt.Fprintf(&expr, "addpath('%s'); %s(", b.ScriptDir, b.EntryPoint)
	for i, p := range inputs {
		if err := checkQuotable(p); err != nil {
			return Invocation{}, err
		}
		if i > 0 {
			expr.WriteString(", ")
		}
		expr.WriteString("'" + p + "'")
	}
	expr.WriteString(")")

	args := append([]string(nil), b.ExtraArgs...)
	args = append(args, "--eval", expr.String())
	return Invocation{Program: b.Program, Args: args}, nil
}

func checkQuotable(p string) error {
	if strings.ContainsAny(p, "'\"\n\r\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return nil
}
