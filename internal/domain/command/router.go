// Package command classifies raw chat text into dispatchable commands.
//
// Classification is pure: no I/O, no session access. Anything the router
// does not recognize as a control command is a raw shell line, including
// unknown slash commands. A message is refused at this stage only when it
// is blank or a known control command is malformed.
package command

import (
	"regexp"
	"strings"
)

// Verb identifies what a parsed command asks the session manager to do.
type Verb string

const (
	// VerbShell runs the raw text in the session's container.
	VerbShell Verb = "shell"
	// VerbSelect attaches the session to an existing container.
	VerbSelect Verb = "select"
	// VerbProvision creates a fresh container and attaches to it.
	VerbProvision Verb = "provision"
	// VerbStopContainer stops and removes the session's container.
	VerbStopContainer Verb = "stop"
	// VerbChdir changes the session's working directory.
	VerbChdir Verb = "chdir"
	// VerbSetEnv records an environment override for future commands.
	VerbSetEnv Verb = "setenv"
	// VerbReset discards the session entirely.
	VerbReset Verb = "reset"
)

// Command is the result of classifying one chat message.
type Command struct {
	Verb Verb
	// Arg holds the verb's positional argument: container name for select,
	// image for provision, target path for chdir.
	Arg string
	// Name and Value are set for setenv.
	Name  string
	Value string
	// Raw is the shell line to execute for VerbShell.
	Raw string
}

// Bare `export NAME=value` lines mutate session state instead of running in
// a throwaway shell, matching what a user at a real terminal would expect.
// Anything that doesn't match exactly (quoting, multiple assignments) falls
// through to the shell.
var exportRe = regexp.MustCompile(`^export\s+([A-Za-z_][A-Za-z0-9_]*)=(\S*)$`)

// Parse classifies one message. ok is false for blank input and for known
// control commands with malformed arguments.
func Parse(text string) (Command, bool) {
	line := strings.TrimSpace(text)
	if line == "" {
		return Command{}, false
	}

	if strings.HasPrefix(line, "/") {
		if cmd, ok, known := parseSlash(line); known {
			return cmd, ok
		}
		// Unknown slash commands go to the shell untouched
		return Command{Verb: VerbShell, Raw: line}, true
	}

	if line == "cd" {
		return Command{Verb: VerbChdir, Arg: "/"}, true
	}
	if rest, ok := strings.CutPrefix(line, "cd "); ok {
		target := strings.TrimSpace(rest)
		if target != "" && !strings.ContainsAny(target, ";&|") {
			return Command{Verb: VerbChdir, Arg: target}, true
		}
	}

	if m := exportRe.FindStringSubmatch(line); m != nil {
		return Command{Verb: VerbSetEnv, Name: m[1], Value: m[2]}, true
	}

	return Command{Verb: VerbShell, Raw: line}, true
}

func parseSlash(line string) (cmd Command, ok bool, known bool) {
	verb, rest, _ := strings.Cut(line, " ")
	arg := strings.TrimSpace(rest)

	switch verb {
	case "/use":
		if arg == "" {
			return Command{}, false, true
		}
		return Command{Verb: VerbSelect, Arg: firstField(arg)}, true, true
	case "/new":
		return Command{Verb: VerbProvision, Arg: firstField(arg)}, true, true
	case "/stop":
		return Command{Verb: VerbStopContainer}, true, true
	case "/reset":
		return Command{Verb: VerbReset}, true, true
	case "/cd":
		if arg == "" {
			return Command{Verb: VerbChdir, Arg: "/"}, true, true
		}
		return Command{Verb: VerbChdir, Arg: firstField(arg)}, true, true
	case "/env":
		if m := exportRe.FindStringSubmatch("export " + arg); m != nil {
			return Command{Verb: VerbSetEnv, Name: m[1], Value: m[2]}, true, true
		}
		return Command{}, false, true
	}
	return Command{}, false, false
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
