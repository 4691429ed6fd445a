package commands

import (
	"context"
	"strings"
	"testing"
)

func TestParseControl(t *testing.T) {
	tests := []struct {
		line    string
		want    control
		wantErr bool
	}{
		{"t", control{kind: controlToggle}, false},
		{"  s  ", control{kind: controlStart}, false},
		{"x", control{kind: controlStop}, false},
		{"a", control{kind: controlAbort}, false},
		{"w", control{kind: controlWakeWord, arg: "你好小智"}, false},
		{"w hey there", control{kind: controlWakeWord, arg: "hey there"}, false},
		{"q what time is it", control{kind: controlQuery, arg: "what time is it"}, false},
		{"q", control{}, true},
		{"quit", control{kind: controlQuit}, false},
		{"help", control{kind: controlHelp}, false},
		{"", control{}, true},
		{"dance", control{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseControl(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseControl(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseControl(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestReadControls(t *testing.T) {
	out := make(chan control, 8)
	var errs []error
	readControls(context.Background(), strings.NewReader("t\nbogus\nq hi\n"), out, func(err error) {
		errs = append(errs, err)
	})
	close(out)
	var got []control
	for c := range out {
		got = append(got, c)
	}
	if len(got) != 2 || got[0].kind != controlToggle || got[1].arg != "hi" {
		t.Fatalf("controls = %+v", got)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "bogus") {
		t.Fatalf("errors = %v", errs)
	}
}
