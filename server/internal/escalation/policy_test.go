package escalation

import (
	"testing"
	"time"
)

func threeTiers(t *testing.T) *Policy {
	t.Helper()
	p, err := NewPolicy([]Tier{
		{Roles: []string{"nurse"}, Timeout: time.Minute},
		{Roles: []string{"nurse", "doctor"}, Timeout: 2 * time.Minute},
		{Roles: []string{"attending"}, Timeout: 5 * time.Minute},
	})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	return p
}

func TestNewPolicy_RejectsEmpty(t *testing.T) {
	if _, err := NewPolicy(nil); err == nil {
		t.Fatal("expected error for empty policy")
	}
}

func TestNewPolicy_RejectsTierWithoutRoles(t *testing.T) {
	_, err := NewPolicy([]Tier{{Timeout: time.Second}})
	if err == nil {
		t.Fatal("expected error for tier without roles")
	}
}

func TestNewPolicy_RejectsNonPositiveTimeout(t *testing.T) {
	_, err := NewPolicy([]Tier{{Roles: []string{"nurse"}}})
	if err == nil {
		t.Fatal("expected error for zero timeout")
	}
}

func TestNewPolicy_CopiesInput(t *testing.T) {
	in := []Tier{{Roles: []string{"nurse"}, Timeout: time.Second}}
	p, err := NewPolicy(in)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	in[0].Roles[0] = "janitor"
	if !p.Eligible(1, "nurse") {
		t.Error("policy changed after caller mutated its input")
	}
}

func TestPolicy_Eligible(t *testing.T) {
	p := threeTiers(t)
	cases := []struct {
		tier int
		role string
		want bool
	}{
		{1, "nurse", true},
		{1, "doctor", false},
		{2, "doctor", true},
		{3, "nurse", false},
		{3, "attending", true},
		{4, "attending", false},
		{0, "nurse", false},
		{1, "", false},
	}
	for _, c := range cases {
		if got := p.Eligible(c.tier, c.role); got != c.want {
			t.Errorf("Eligible(%d, %q): got %v, want %v", c.tier, c.role, got, c.want)
		}
	}
}

func TestPolicy_IsLastAndTimeout(t *testing.T) {
	p := threeTiers(t)
	if p.IsLast(2) {
		t.Error("IsLast(2): got true, want false")
	}
	if !p.IsLast(3) {
		t.Error("IsLast(3): got false, want true")
	}
	if got := p.Timeout(2); got != 2*time.Minute {
		t.Errorf("Timeout(2): got %v, want 2m", got)
	}
	if got := p.Timeout(9); got != 5*time.Minute {
		t.Errorf("Timeout(9): got %v, want last tier timeout", got)
	}
}
