package main

import (
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// readlineConfirmer prompts the operator on the terminal. Empty input and
// anything starting with y/Y approves; everything else declines.
type readlineConfirmer struct {
	rl *readline.Instance
}

func newReadlineConfirmer() (*readlineConfirmer, error) {
	rl, err := readline.New("")
	if err != nil {
		return nil, err
	}
	return &readlineConfirmer{rl: rl}, nil
}

func (c *readlineConfirmer) Confirm(prompt string) (bool, error) {
	c.rl.SetPrompt(prompt + " [Y/n] ")
	line, err := c.rl.Readline()
	if err != nil {
		// Ctrl-C / Ctrl-D decline rather than erroring out mid-run.
		if err == readline.ErrInterrupt || err == io.EOF {
			return false, nil
		}
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || strings.HasPrefix(answer, "y"), nil
}

func (c *readlineConfirmer) Close() error {
	return c.rl.Close()
}
