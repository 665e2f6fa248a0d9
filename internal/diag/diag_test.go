package diag

import (
	"bytes"
	"strings"
	"testing"
)

func TestWarnfFormatsAndRecords(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector()
	c.Out = &buf

	c.Warnf("generics", "App.List`1::Add(T)", "argument %s violates struct constraint", "App.Ref")

	out := buf.String()
	if !strings.Contains(out, "warning: [generics]") {
		t.Errorf("missing severity/component header: %q", out)
	}
	if !strings.Contains(out, "App.List`1::Add(T)") {
		t.Errorf("missing method context: %q", out)
	}
	if len(c.Messages()) != 1 {
		t.Errorf("messages = %d", len(c.Messages()))
	}
}

func TestWarnOnceDeduplicates(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector()
	c.Out = &buf

	for i := 0; i < 3; i++ {
		c.WarnOnce("builder", "System.RuntimeType", "stubbing body for %s", "System.RuntimeType")
	}
	if got := strings.Count(buf.String(), "stubbing"); got != 1 {
		t.Errorf("WarnOnce printed %d times", got)
	}
}

func TestInfoNotPrinted(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector()
	c.Out = &buf
	c.Infof("driver", "pass %d complete", 4)
	if buf.Len() != 0 {
		t.Error("info messages should not hit stderr")
	}
	if len(c.Messages()) != 1 {
		t.Error("info messages should still be recorded")
	}
}
