//go:build !windows

package ipmutex

import (
	"os"
	"strconv"

	"github.com/moby/sys/user"
)

func currentUserName() (string, error) {
	u, err := user.CurrentUser()
	if err == nil && u.Name != "" {
		return u.Name, nil
	}
	if name := os.Getenv("USER"); name != "" {
		return name, nil
	}
	return strconv.Itoa(os.Getuid()), nil
}
