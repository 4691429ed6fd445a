package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

type controlKind int

const (
	controlToggle controlKind = iota + 1
	controlStart
	controlStop
	controlWakeWord
	controlAbort
	controlQuery
	controlQuit
	controlHelp
)

type control struct {
	kind controlKind
	arg  string
}

const controlHelpText = `controls:
  t          toggle chat
  s          start listening (manual stop)
  x          stop listening
  w <word>   inject a wake word
  a          abort speaking
  q <text>   send a text query
  quit       exit`

// parseControl parses one stdin line.
func parseControl(line string) (control, error) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "t":
		return control{kind: controlToggle}, nil
	case "s":
		return control{kind: controlStart}, nil
	case "x":
		return control{kind: controlStop}, nil
	case "a":
		return control{kind: controlAbort}, nil
	case "quit", "exit":
		return control{kind: controlQuit}, nil
	case "h", "help", "?":
		return control{kind: controlHelp}, nil
	case "w":
		if arg == "" {
			arg = "你好小智"
		}
		return control{kind: controlWakeWord, arg: arg}, nil
	case "q":
		if arg == "" {
			return control{}, fmt.Errorf("q needs text")
		}
		return control{kind: controlQuery, arg: arg}, nil
	case "":
		return control{}, fmt.Errorf("empty line")
	}
	return control{}, fmt.Errorf("unknown control %q", cmd)
}

// readControls sends parsed lines from r to out until r ends or ctx is
// done. Parse errors go to onError.
func readControls(ctx context.Context, r io.Reader, out chan<- control, onError func(error)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		c, err := parseControl(sc.Text())
		if err != nil {
			onError(err)
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}
