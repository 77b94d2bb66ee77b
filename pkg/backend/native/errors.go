package native

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"discover/internal/executor"
)

// ErrorKind classifies a tool failure.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorDependencyConflict
	ErrorNotFound
	ErrorLocked
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorDependencyConflict:
		return "dependency conflict"
	case ErrorNotFound:
		return "package not found"
	case ErrorLocked:
		return "package database locked"
	}
	return "unknown error"
}

// ToolError is a classified failure of a package tool.
type ToolError struct {
	Tool       string
	Kind       ErrorKind
	Packages   []string
	Suggestion string
	Output     string
	Err        error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := e.Tool + ": " + e.Kind.String()
	if len(e.Packages) > 0 {
		msg += " (" + strings.Join(e.Packages, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the original error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// IsDependencyConflict reports whether err is a classified dependency conflict.
func IsDependencyConflict(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) && te.Kind == ErrorDependencyConflict {
		return te, true
	}
	return nil, false
}

// rule recognises one kind of failure in tool output. When pkgs has a group, its matches name the
// affected packages.
type rule struct {
	kind       ErrorKind
	match      *regexp.Regexp
	pkgs       *regexp.Regexp
	suggestion string
}

var rules = map[string][]rule{
	"pacman": {
		{
			kind:       ErrorDependencyConflict,
			match:      regexp.MustCompile(`failed to prepare transaction.*could not satisfy dependencies|:: \S+ and \S+ are in conflict`),
			pkgs:       regexp.MustCompile(`:: installing (\S+) .* breaks dependency .* required by (\S+)|:: (\S+) and (\S+) are in conflict`),
			suggestion: "Run 'discover upgrade' to update your system first",
		},
		{
			kind:  ErrorNotFound,
			match: regexp.MustCompile(`error: target not found: \S+`),
			pkgs:  regexp.MustCompile(`error: target not found: (\S+)`),
		},
		{
			kind:       ErrorLocked,
			match:      regexp.MustCompile(`failed to init transaction.*unable to lock database`),
			suggestion: "Another package manager may be running. Wait for it to finish or remove /var/lib/pacman/db.lck",
		},
	},
	"apt": {
		{
			kind:       ErrorDependencyConflict,
			match:      regexp.MustCompile(`Unable to correct problems, you have held broken packages|The following packages have unmet dependencies`),
			pkgs:       regexp.MustCompile(`(?m)^\s*(\S+) : Depends:`),
			suggestion: "Run 'discover upgrade' to update your system first",
		},
		{
			kind:  ErrorNotFound,
			match: regexp.MustCompile(`E: Unable to locate package \S+`),
			pkgs:  regexp.MustCompile(`E: Unable to locate package (\S+)`),
		},
		{
			kind:       ErrorLocked,
			match:      regexp.MustCompile(`Could not get lock|Unable to acquire the dpkg frontend lock`),
			suggestion: "Another package manager may be running. Wait for it to finish",
		},
	},
	"dnf": {
		{
			kind:       ErrorDependencyConflict,
			match:      regexp.MustCompile(`Problem( \d+)?: .*(conflicts with|nothing provides|cannot install both)`),
			pkgs:       regexp.MustCompile(`package (\S+?)-\d\S* (?:requires|conflicts with)`),
			suggestion: "Run 'discover upgrade' to update your system first",
		},
		{
			kind:  ErrorNotFound,
			match: regexp.MustCompile(`No match for argument: \S+`),
			pkgs:  regexp.MustCompile(`No match for argument: (\S+)`),
		},
		{
			kind:       ErrorLocked,
			match:      regexp.MustCompile(`Waiting for process with pid \d+ to finish|database is locked`),
			suggestion: "Another package manager may be running. Wait for it to finish",
		},
	},
}

// classify turns a failed command into a *ToolError when its output is recognised. output is what
// the command printed; the stderr of an executor.CommandError is searched too.
func classify(tool, output string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *executor.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" && !strings.Contains(output, cmdErr.Stderr) {
		output += "\n" + cmdErr.Stderr
	}

	for _, r := range rules[tool] {
		if !r.match.MatchString(output) {
			continue
		}
		te := &ToolError{
			Tool:       tool,
			Kind:       r.kind,
			Suggestion: r.suggestion,
			Output:     output,
			Err:        err,
		}
		if r.pkgs != nil {
			te.Packages = affected(r.pkgs, output)
		}
		return te
	}
	return err
}

// affected collects the distinct non-empty groups of every match of re.
func affected(re *regexp.Regexp, output string) []string {
	seen := make(map[string]bool)
	var pkgs []string
	for _, m := range re.FindAllStringSubmatch(output, -1) {
		for _, g := range m[1:] {
			if g != "" && !seen[g] {
				seen[g] = true
				pkgs = append(pkgs, g)
			}
		}
	}
	return pkgs
}

// FormatDependencyConflict returns a user-facing explanation of a dependency conflict.
func FormatDependencyConflict(te *ToolError) string {
	var sb strings.Builder
	sb.WriteString("Dependency conflict detected!\n")
	sb.WriteString("  This usually happens when packages in your system are out of date.\n")
	if te.Suggestion != "" {
		fmt.Fprintf(&sb, "-> Suggestion: %s\n", te.Suggestion)
	}
	if len(te.Packages) > 0 {
		sb.WriteString("  Affected packages:\n")
		for _, p := range te.Packages {
			fmt.Fprintf(&sb, "    - %s\n", p)
		}
	}
	return sb.String()
}
