package manager

import (
	"fmt"
	"strings"

	"github.com/termgate/termgate/internal/runtime/docker"
)

const truncationMarker = "… [output truncated]"

// formatExecOutput renders an execution result the way a terminal user would
// expect: stdout, then stderr, then a trailing exit status line only when the
// command failed.
func formatExecOutput(res *docker.ExecResult) string {
	var b strings.Builder

	if out := strings.TrimRight(string(res.Stdout), "\n"); out != "" {
		b.WriteString(out)
		if res.StdoutTruncated {
			b.WriteString("\n" + truncationMarker)
		}
	}
	if errOut := strings.TrimRight(string(res.Stderr), "\n"); errOut != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(errOut)
		if res.StderrTruncated {
			b.WriteString("\n" + truncationMarker)
		}
	}

	if res.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit status %d", res.ExitCode)
	} else if b.Len() == 0 {
		b.WriteString("(no output)")
	}
	return b.String()
}

// formatPartialOutput renders whatever a killed command managed to emit,
// with no exit status line.
func formatPartialOutput(res *docker.ExecResult) string {
	partial := *res
	partial.ExitCode = 0
	out := formatExecOutput(&partial)
	if out == "(no output)" {
		return ""
	}
	return out
}

// clampReply bounds a reply to maxBytes, cutting on a rune boundary and
// appending the truncation marker when it had to cut.
func clampReply(text string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text, false
	}

	budget := maxBytes - len(truncationMarker) - 1
	if budget < 0 {
		budget = 0
	}
	cut := budget
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n" + truncationMarker, true
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
