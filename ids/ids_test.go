package ids

import (
	"strings"
	"testing"
)

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"lower alnum", "sess_abc123", true},
		{"dash", "run-abc-123", true},
		{"uppercase rejected", "Sess_ABC", false},
		{"colon rejected", "sess:abc", false},
		{"slash rejected", "sess/abc", false},
		{"at rejected", "sess@abc", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Valid(c.in); got != c.want {
				t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestFactoryMintsDistinctValidIds(t *testing.T) {
	f := NewFactory()

	sess, err := f.NewSessionId()
	if err != nil {
		t.Fatalf("NewSessionId: %v", err)
	}
	if !strings.HasPrefix(string(sess), "sess_") {
		t.Errorf("SessionId = %q, want sess_ prefix", sess)
	}

	run1, err := f.NewRunId()
	if err != nil {
		t.Fatalf("NewRunId: %v", err)
	}
	run2, err := f.NewRunId()
	if err != nil {
		t.Fatalf("NewRunId: %v", err)
	}
	if run1 == run2 {
		t.Errorf("expected distinct run ids, got %q twice", run1)
	}

	node, err := f.NewNodeId()
	if err != nil {
		t.Fatalf("NewNodeId: %v", err)
	}
	if !Valid(string(node)[len("node_"):]) {
		t.Errorf("NodeId suffix not valid: %q", node)
	}
}

func TestDeriveChildAttemptIdIsDeterministic(t *testing.T) {
	parent := AttemptId("att_abc")
	a := DeriveChildAttemptId(parent)
	b := DeriveChildAttemptId(parent)
	if a != b {
		t.Errorf("DeriveChildAttemptId not deterministic: %q != %q", a, b)
	}
	if a == parent {
		t.Errorf("derived child id must differ from parent")
	}
	if _, err := Raw16(string(a)); err != nil {
		t.Errorf("derived child id must pack into a token payload: %v", err)
	}
}

func TestNewStepInstanceKey(t *testing.T) {
	if got := NewStepInstanceKey("triage", nil); got != "triage" {
		t.Errorf("bare step key = %q, want %q", got, "triage")
	}

	key := NewStepInstanceKey("body", []LoopFrame{{LoopId: "l1", Iteration: 2}, {LoopId: "l2", Iteration: 0}})
	want := StepInstanceKey("l1@2/l2@0::body")
	if key != want {
		t.Errorf("loop step key = %q, want %q", key, want)
	}
}

func TestRaw16RoundTrip(t *testing.T) {
	f := NewFactory()
	sess, err := f.NewSessionId()
	if err != nil {
		t.Fatalf("NewSessionId: %v", err)
	}
	raw, err := Raw16(string(sess))
	if err != nil {
		t.Fatalf("Raw16: %v", err)
	}
	back := FromRaw16("sess", raw)
	if back != string(sess) {
		t.Errorf("round trip mismatch: %q != %q", back, sess)
	}
}

func TestRaw16RejectsWrongLength(t *testing.T) {
	if _, err := Raw16("sess_ab"); err == nil {
		t.Error("expected error for too-short identifier")
	}
}

func TestBase32LowerNoPadRoundTrip(t *testing.T) {
	b := []byte{0x00, 0xff, 0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90, 0xa0, 0xb0, 0xc0, 0xd0, 0xe0}
	s := base32LowerNoPad(b)
	if len(s) == 0 {
		t.Fatal("empty encoding")
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Errorf("unexpected rune %q in base32 output %q", r, s)
		}
	}
}

