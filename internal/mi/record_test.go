package mi

import (
	"testing"
)

func TestParseRecordPrompt(t *testing.T) {
	for _, line := range []string{"(gdb)", "(gdb) ", "(gdb) \r\n"} {
		rec, err := ParseRecord(line)
		if err != nil {
			t.Fatalf("ParseRecord(%q): %v", line, err)
		}
		if rec.Type != RecordPrompt {
			t.Errorf("ParseRecord(%q).Type = %v, want prompt", line, rec.Type)
		}
	}
}

func TestParseRecordResult(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		token  int
		class  ResultClass
		fields map[string]string
	}{
		{
			name:  "bare done",
			line:  "^done",
			class: ClassDone,
		},
		{
			name:  "done with token",
			line:  "42^done",
			token: 42,
			class: ClassDone,
		},
		{
			name:  "running",
			line:  "7^running",
			token: 7,
			class: ClassRunning,
		},
		{
			name:   "error with message",
			line:   `3^error,msg="No symbol table is loaded."`,
			token:  3,
			class:  ClassError,
			fields: map[string]string{"msg": "No symbol table is loaded."},
		},
		{
			name:   "escaped message",
			line:   `1^error,msg="bad \"path\"\nretry"`,
			token:  1,
			class:  ClassError,
			fields: map[string]string{"msg": "bad \"path\"\nretry"},
		},
		{
			name:  "exit",
			line:  "^exit",
			class: ClassExit,
		},
		{
			name:  "unknown class",
			line:  "^frobnicated",
			class: ClassOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord(tt.line)
			if err != nil {
				t.Fatalf("ParseRecord(%q): %v", tt.line, err)
			}
			if rec.Type != RecordResult {
				t.Fatalf("Type = %v, want result", rec.Type)
			}
			if rec.Result.Token != tt.token {
				t.Errorf("Token = %d, want %d", rec.Result.Token, tt.token)
			}
			if rec.Result.Class != tt.class {
				t.Errorf("Class = %s, want %s", rec.Result.Class, tt.class)
			}
			for k, want := range tt.fields {
				if got := rec.Result.Fields[k]; got != want {
					t.Errorf("Fields[%q] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestParseRecordAsync(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		kind   AsyncKind
		class  string
		fields map[string]string
	}{
		{
			name:  "stopped with reason",
			line:  `*stopped,reason="exited-normally"`,
			kind:  AsyncExec,
			class: "stopped",
			fields: map[string]string{
				"reason": "exited-normally",
			},
		},
		{
			name:  "stopped with exit code and frame tuple",
			line:  `*stopped,reason="exited",exit-code="0100",frame={addr="0x0",func="main"}`,
			kind:  AsyncExec,
			class: "stopped",
			fields: map[string]string{
				"reason":    "exited",
				"exit-code": "0100",
				"frame":     `{addr="0x0",func="main"}`,
			},
		},
		{
			name:  "running all threads",
			line:  `*running,thread-id="all"`,
			kind:  AsyncExec,
			class: "running",
			fields: map[string]string{
				"thread-id": "all",
			},
		},
		{
			name:  "thread group started",
			line:  `=thread-group-started,id="i1",pid="4242"`,
			kind:  AsyncNotify,
			class: "thread-group-started",
			fields: map[string]string{
				"id":  "i1",
				"pid": "4242",
			},
		},
		{
			name:  "status record",
			line:  `+download,section=".text"`,
			kind:  AsyncStatus,
			class: "download",
			fields: map[string]string{
				"section": ".text",
			},
		},
		{
			name:  "nested list value",
			line:  `=breakpoint-modified,bkpt={number="1",locations=[{num="1.1"},{num="1.2"}]}`,
			kind:  AsyncNotify,
			class: "breakpoint-modified",
			fields: map[string]string{
				"bkpt": `{number="1",locations=[{num="1.1"},{num="1.2"}]}`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord(tt.line)
			if err != nil {
				t.Fatalf("ParseRecord(%q): %v", tt.line, err)
			}
			if rec.Type != RecordAsync {
				t.Fatalf("Type = %v, want async", rec.Type)
			}
			if rec.Async.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", rec.Async.Kind, tt.kind)
			}
			if rec.Async.Class != tt.class {
				t.Errorf("Class = %q, want %q", rec.Async.Class, tt.class)
			}
			for k, want := range tt.fields {
				if got := rec.Async.Fields[k]; got != want {
					t.Errorf("Fields[%q] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestParseRecordStream(t *testing.T) {
	tests := []struct {
		line string
		kind StreamKind
		text string
	}{
		{`~"Reading symbols from a.out...\n"`, StreamConsole, "Reading symbols from a.out...\n"},
		{`@"hello from the inferior\n"`, StreamTarget, "hello from the inferior\n"},
		{`&"warning: core file truncated\n"`, StreamLog, "warning: core file truncated\n"},
	}

	for _, tt := range tests {
		rec, err := ParseRecord(tt.line)
		if err != nil {
			t.Fatalf("ParseRecord(%q): %v", tt.line, err)
		}
		if rec.Type != RecordStream {
			t.Fatalf("Type = %v, want stream", rec.Type)
		}
		if rec.StreamKind != tt.kind {
			t.Errorf("StreamKind = %v, want %v", rec.StreamKind, tt.kind)
		}
		if rec.StreamText != tt.text {
			t.Errorf("StreamText = %q, want %q", rec.StreamText, tt.text)
		}
	}
}

func TestParseRecordErrors(t *testing.T) {
	lines := []string{
		"",
		"123",
		"hello world",
		`^done,msg=`,
		`^done,msg="unterminated`,
		`*stopped,frame={unbalanced`,
		`~"trailing"junk`,
	}
	for _, line := range lines {
		if _, err := ParseRecord(line); err == nil {
			t.Errorf("ParseRecord(%q) succeeded, want error", line)
		}
	}
}

func TestAsyncRecordPID(t *testing.T) {
	rec := AsyncRecord{Fields: map[string]string{"pid": "77"}}
	if got := rec.PID(); got != 77 {
		t.Errorf("PID() = %d, want 77", got)
	}

	rec = AsyncRecord{Fields: map[string]string{"pid": "not-a-pid"}}
	if got := rec.PID(); got != 0 {
		t.Errorf("PID() = %d, want 0 for malformed pid", got)
	}

	rec = AsyncRecord{Fields: map[string]string{}}
	if got := rec.PID(); got != 0 {
		t.Errorf("PID() = %d, want 0 for missing pid", got)
	}
}

func TestResponseMessage(t *testing.T) {
	resp := Response{Fields: map[string]string{"msg": "boom"}}
	if got := resp.Message(); got != "boom" {
		t.Errorf("Message() = %q, want %q", got, "boom")
	}
	if got := (Response{Fields: map[string]string{}}).Message(); got != "" {
		t.Errorf("Message() = %q, want empty", got)
	}
}
