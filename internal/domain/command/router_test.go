package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Command
	}{
		{"select", "/use web-1", Command{Verb: VerbSelect, Arg: "web-1"}},
		{"select extra words", "/use web-1 please", Command{Verb: VerbSelect, Arg: "web-1"}},
		{"provision default image", "/new", Command{Verb: VerbProvision}},
		{"provision with image", "/new ubuntu:24.04", Command{Verb: VerbProvision, Arg: "ubuntu:24.04"}},
		{"stop", "/stop", Command{Verb: VerbStopContainer}},
		{"reset", "/reset", Command{Verb: VerbReset}},
		{"slash cd", "/cd /var/log", Command{Verb: VerbChdir, Arg: "/var/log"}},
		{"slash cd bare", "/cd", Command{Verb: VerbChdir, Arg: "/"}},
		{"slash env", "/env TERM=xterm", Command{Verb: VerbSetEnv, Name: "TERM", Value: "xterm"}},
		{"bare cd", "cd /tmp", Command{Verb: VerbChdir, Arg: "/tmp"}},
		{"bare cd home", "cd", Command{Verb: VerbChdir, Arg: "/"}},
		{"bare cd relative", "cd logs", Command{Verb: VerbChdir, Arg: "logs"}},
		{"export", "export PATH=/usr/local/bin", Command{Verb: VerbSetEnv, Name: "PATH", Value: "/usr/local/bin"}},
		{"export empty value", "export DEBUG=", Command{Verb: VerbSetEnv, Name: "DEBUG", Value: ""}},
		{"plain shell", "ls -la", Command{Verb: VerbShell, Raw: "ls -la"}},
		{"shell with pipes", "ps aux | grep nginx", Command{Verb: VerbShell, Raw: "ps aux | grep nginx"}},
		{"unknown slash goes to shell", "/usr/bin/env", Command{Verb: VerbShell, Raw: "/usr/bin/env"}},
		{"cd with compound falls through", "cd /tmp && rm x", Command{Verb: VerbShell, Raw: "cd /tmp && rm x"}},
		{"export with quotes falls through", `export MSG="hello world"`, Command{Verb: VerbShell, Raw: `export MSG="hello world"`}},
		{"export invalid name falls through", "export 1BAD=x", Command{Verb: VerbShell, Raw: "export 1BAD=x"}},
		{"trims surrounding space", "  ls  ", Command{Verb: VerbShell, Raw: "ls"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejected(t *testing.T) {
	for _, text := range []string{"", "   ", "\n", "/use", "/env", "/env NOEQUALS"} {
		t.Run(text, func(t *testing.T) {
			_, ok := Parse(text)
			assert.False(t, ok)
		})
	}
}
