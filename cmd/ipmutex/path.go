package main

import (
	"fmt"

	"github.com/containers/ipmutex/types"
	"github.com/spf13/pflag"
)

func path(flags *pflag.FlagSet, action string, options types.LockOptions, args []string) (int, error) {
	path, err := lockPath(options)
	if err != nil {
		return 1, err
	}
	if jsonOutput {
		return outputJSON(map[string]string{"path": path})
	}
	fmt.Println(path)
	return 0, nil
}

func init() {
	commands = append(commands, command{
		names:   []string{"path"},
		usage:   "Print the lock file in use",
		minArgs: 0,
		maxArgs: 0,
		action:  path,
		addFlags: func(flags *pflag.FlagSet, cmd *command) {
			flags.BoolVarP(&jsonOutput, "json", "j", jsonOutput, "Prefer JSON output")
		},
	})
}
