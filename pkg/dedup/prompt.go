package dedup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNoAnswer = errors.New("no answer to confirmation prompt")

// NewPrompt returns a ConfirmFunc that asks on out and reads one line from
// in per question. Only "y" or "yes" (any case) confirm. Running out of
// input is an error, so a closed stdin never turns into a silent decline.
func NewPrompt(in io.Reader, out io.Writer) ConfirmFunc {
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, table, _ string) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprint(out, "Continue? y/n ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, err
			}
			return false, fmt.Errorf("%w for %s", ErrNoAnswer, table)
		}
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
