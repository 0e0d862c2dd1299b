package worker

import (
	"context"
	"reflect"
	"runtime"
	"sync"
	"testing"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"npm install", []string{"npm", "install"}},
		{"npm run build", []string{"npm", "run", "build"}},
		{"  spaced   out  ", []string{"spaced", "out"}},
		{`sh -c "exit 3"`, []string{"sh", "-c", "exit 3"}},
		{`echo 'single quoted arg'`, []string{"echo", "single quoted arg"}},
		{`echo escaped\ space`, []string{"echo", "escaped space"}},
		{"", nil},
	}
	for _, tc := range cases {
		got, err := parseCommand(tc.in)
		if err != nil {
			t.Errorf("parseCommand(%q) error: %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseCommandUnterminatedQuote(t *testing.T) {
	if _, err := parseCommand(`echo "oops`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestExecRunnerStreamsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	var mu sync.Mutex
	var lines []string
	code, err := ExecRunner{}.Run(context.Background(), `sh -c "echo one; echo two 1>&2"`, t.TempDir(), func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if len(lines) != 2 {
		t.Errorf("lines = %v, want both stdout and stderr lines", lines)
	}
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	code, err := ExecRunner{}.Run(context.Background(), `sh -c "exit 3"`, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}
