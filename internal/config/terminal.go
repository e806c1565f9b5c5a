package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TerminalPrompter reads answers from an interactive terminal. Secrets
// are read with echo disabled.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stdout}
}

func (t *TerminalPrompter) readLine() (string, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	line, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *TerminalPrompter) Ask(prompt string) (string, error) {
	fmt.Fprint(t.Out, prompt)
	return t.readLine()
}

func (t *TerminalPrompter) AskSecret(prompt string) (string, error) {
	fmt.Fprint(t.Out, prompt)
	if f, ok := t.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.Out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	// Not a terminal (piped input); fall back to a plain read.
	return t.readLine()
}

func (t *TerminalPrompter) AskYesNo(prompt string) (bool, error) {
	for {
		answer, err := t.Ask(prompt)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}
