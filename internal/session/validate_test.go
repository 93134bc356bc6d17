package session

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work-acct", "a", "user_2"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Has Upper", "sp ace", "dot.dot", "../escape", "x1234567890123456789012345678901234567890123456789012345678901234"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}
