package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rodruizronald/smart-calendar/internal/announce"
	"github.com/rodruizronald/smart-calendar/internal/deviceauth"
)

const (
	ansiBold  = "\033[1;33m"
	ansiReset = "\033[0m"
)

// printUserCode shows the device flow prompt. The code is highlighted only
// when w is a terminal.
func printUserCode(w io.Writer, c deviceauth.UserCode) {
	fmt.Fprint(w, userCodeBanner(c, isTerminal(w)))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func userCodeBanner(c deviceauth.UserCode, color bool) string {
	code := c.UserCode
	if color {
		code = ansiBold + code + ansiReset
	}

	rule := strings.Repeat("=", 60)
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "  Authorize smart-calendar to read your calendar.")
	fmt.Fprintf(&b, "  Visit %s\n", c.VerificationURL)
	fmt.Fprintf(&b, "  and enter the code %s\n", code)
	if c.ExpiresIn > 0 {
		fmt.Fprintf(&b, "  The code expires in %s.\n", announce.SpeakDuration(c.ExpiresIn))
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}
