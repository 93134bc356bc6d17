package session

import "fmt"

// ValidateName checks that an account name is safe to use as a directory
// component: 1 to 64 characters from [a-z0-9_-].
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("invalid account name %q: must be 1-64 characters", name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return fmt.Errorf("invalid account name %q: only [a-z0-9_-] allowed", name)
		}
	}
	return nil
}
