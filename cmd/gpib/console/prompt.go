package console

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chzyer/readline"
)

const (
	Yes = "y"
	No  = "n"
)

// Confirm asks a yes/no question. Anything but an explicit yes is a no.
func Confirm(question string) (bool, error) {
	answer, err := Prompt(question, No, Yes)
	if err != nil {
		return false, err
	}
	return answer == Yes, nil
}

// Prompt reads one line. With choices, the answer must be one of them and
// the first one is returned on empty or unknown input.
func Prompt(question string, choices ...string) (string, error) {
	if len(choices) > 0 {
		shown := append([]string{strings.ToUpper(choices[0])}, choices[1:]...)
		question = fmt.Sprintf("%s [%s]: ", question, strings.Join(shown, "/"))
	}
	rl, err := readline.New(question)
	if err != nil {
		return "", err
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil || len(choices) == 0 {
		return line, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if slices.Contains(choices, answer) {
		return answer, nil
	}
	return choices[0], nil
}

// Shell returns a line editor with history for interactive sessions.
func Shell(prompt, historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}
