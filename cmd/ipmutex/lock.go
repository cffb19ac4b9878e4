package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	ipmutex "github.com/containers/ipmutex"
	"github.com/containers/ipmutex/types"
	units "github.com/docker/go-units"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

var (
	lockShared  = false
	lockWait    = -1
	lockCommand = ""
)

// commandLine returns the command to run under the lock: either the parsed
// --command string or the remaining arguments, not both.
func commandLine(command string, args []string) ([]string, error) {
	if command == "" {
		if len(args) == 0 {
			return nil, errors.New("no command given")
		}
		return args, nil
	}
	if len(args) > 0 {
		return nil, fmt.Errorf("both --command and arguments given (%q)", args)
	}
	words, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command %q: %w", command, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command %q", command)
	}
	return words, nil
}

// waitOption turns the --wait value into a guard option.  Negative values
// fall back to the configured timeout, where zero means waiting forever.
func waitOption(wait int, timeout time.Duration) (ipmutex.GuardOption, time.Duration) {
	switch {
	case wait == 0:
		return ipmutex.TryToLock(), 0
	case wait > 0:
		d := time.Duration(wait) * time.Second
		return ipmutex.Within(d), d
	case timeout > 0:
		return ipmutex.Within(timeout), timeout
	default:
		return nil, 0
	}
}

func lockAndRun(flags *pflag.FlagSet, action string, options types.LockOptions, args []string) (int, error) {
	argv, err := commandLine(lockCommand, args)
	if err != nil {
		return 1, err
	}
	m, err := ipmutex.New(options)
	if err != nil {
		return 1, err
	}
	defer m.Close()

	var guardOptions []ipmutex.GuardOption
	option, timeout := waitOption(lockWait, options.Timeout)
	if option != nil {
		guardOptions = append(guardOptions, option)
	}

	var guard interface {
		Owns() bool
		Close() error
	}
	if lockShared {
		guard, err = ipmutex.NewSharableLock(m.Mutex, guardOptions...)
	} else {
		guard, err = ipmutex.NewScopedLock(m.Mutex, guardOptions...)
	}
	if err != nil {
		return 1, err
	}
	defer guard.Close()
	if !guard.Owns() {
		if timeout > 0 {
			return 1, fmt.Errorf("could not lock %s within %s (another instance is running?)", m.Path(), units.HumanDuration(timeout))
		}
		return 1, fmt.Errorf("could not lock %s (another instance is running?)", m.Path())
	}
	logrus.Debugf("holding %s, running %q", m, argv)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("running %q: %w", argv, err)
	}
	return 0, nil
}

func init() {
	commands = append(commands, command{
		names:       []string{"lock", "run"},
		optionsHelp: "[options [...]] [-- command [args...]]",
		usage:       "Run a command while holding the lock",
		minArgs:     0,
		maxArgs:     -1,
		action:      lockAndRun,
		addFlags: func(flags *pflag.FlagSet, cmd *command) {
			flags.BoolVarP(&lockShared, "shared", "s", lockShared, "Take a shared lock instead of an exclusive one")
			flags.IntVarP(&lockWait, "wait", "w", lockWait, "Seconds to wait for the lock (0 to fail right away, default from the configuration)")
			flags.StringVarP(&lockCommand, "command", "c", lockCommand, "Command line to run, split like a shell would")
		},
	})
}
