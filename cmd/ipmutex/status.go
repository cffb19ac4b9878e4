package main

import (
	"fmt"

	"github.com/containers/ipmutex/pkg/interprocess"
	"github.com/containers/ipmutex/types"
	"github.com/spf13/pflag"
)

type lockStatus struct {
	Path  string `json:"path"`
	State string `json:"state"`
}

func status(flags *pflag.FlagSet, action string, options types.LockOptions, args []string) (int, error) {
	path, err := lockPath(options)
	if err != nil {
		return 1, err
	}
	state, err := interprocess.Probe(path)
	if err != nil {
		return 1, fmt.Errorf("status: %w", err)
	}
	if jsonOutput {
		return outputJSON(lockStatus{Path: path, State: state.String()})
	}
	fmt.Printf("%s: %s\n", path, state)
	return 0, nil
}

func init() {
	commands = append(commands, command{
		names:   []string{"status"},
		usage:   "Check whether another process holds the lock",
		minArgs: 0,
		maxArgs: 0,
		action:  status,
		addFlags: func(flags *pflag.FlagSet, cmd *command) {
			flags.BoolVarP(&jsonOutput, "json", "j", jsonOutput, "Prefer JSON output")
		},
	})
}
