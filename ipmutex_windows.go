package ipmutex

import (
	"fmt"
	"os/user"
	"path/filepath"
)

func currentUserName() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("looking up the current user: %w", err)
	}
	// Drop the DOMAIN\ prefix.
	return filepath.Base(u.Username), nil
}
