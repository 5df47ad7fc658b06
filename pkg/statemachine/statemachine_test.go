package statemachine

import "testing"

type counter struct {
	steps int
	trace []string
}

func stateA(c *counter) StateFn[counter] {
	c.steps++
	c.trace = append(c.trace, "a")
	return stateB
}

func stateB(c *counter) StateFn[counter] {
	c.steps++
	c.trace = append(c.trace, "b")
	if c.steps >= 4 {
		return nil
	}
	return stateA
}

func TestRunStepsUntilNil(t *testing.T) {
	c := &counter{}
	m := New(c, stateA)
	m.Run()

	if c.steps != 4 {
		t.Fatalf("steps = %d, want 4", c.steps)
	}
	want := []string{"a", "b", "a", "b"}
	for i, s := range want {
		if c.trace[i] != s {
			t.Fatalf("trace = %v, want %v", c.trace, want)
		}
	}
	if m.Current() != nil {
		t.Errorf("machine should be stopped")
	}
	if m.Step() {
		t.Errorf("stepping a stopped machine should report false")
	}
}

func TestJumpRepositions(t *testing.T) {
	c := &counter{steps: 10}
	m := New(c, stateA)
	m.Jump(stateB)
	m.Step()

	if len(c.trace) != 1 || c.trace[0] != "b" {
		t.Fatalf("trace = %v, want [b]", c.trace)
	}
	if m.Current() != nil {
		t.Errorf("stateB at steps>=4 should stop the machine")
	}
}
