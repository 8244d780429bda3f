package vault

import (
	"fmt"
	"strings"
)

// validateName rejects snapshot names that could escape the instance namespace.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid snapshot name: %q", name)
	}
	if strings.HasPrefix(name, ".tmp-") {
		return fmt.Errorf("invalid snapshot name: %q", name)
	}
	return nil
}
