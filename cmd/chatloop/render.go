package main

import (
	"fmt"
	"os"
)

// terminalRenderer streams response fragments to stdout and shows a waiting
// indicator until the first fragment arrives.
type terminalRenderer struct {
	thinking bool
}

func (r *terminalRenderer) Fragment(text string) {
	fmt.Print(text)
}

func (r *terminalRenderer) ThinkingStart() {
	if r.thinking {
		return
	}
	r.thinking = true
	fmt.Fprint(os.Stdout, "Thinking...")
}

func (r *terminalRenderer) ThinkingStop() {
	if !r.thinking {
		return
	}
	r.thinking = false
	// Erase the indicator before the response starts.
	fmt.Fprint(os.Stdout, "\r           \r")
}
