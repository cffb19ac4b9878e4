package main

import (
	"fmt"
	"os"

	ipmutex "github.com/containers/ipmutex"
	"github.com/containers/ipmutex/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

type command struct {
	names       []string
	optionsHelp string
	minArgs     int
	maxArgs     int
	usage       string
	addFlags    func(*pflag.FlagSet, *command)
	action      func(*pflag.FlagSet, string, types.LockOptions, []string) (int, error)
}

var (
	commands   = []command{}
	jsonOutput = false
)

func main() {
	options, err := types.DefaultLockOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading configuration: %v\n", err)
		os.Exit(1)
	}
	debug := false

	makeFlags := func(command string, eh pflag.ErrorHandling) *pflag.FlagSet {
		flags := pflag.NewFlagSet(command, eh)
		flags.StringVarP(&options.SysRoot, "root", "R", options.SysRoot, "System root whose common lock is used")
		flags.StringVarP(&options.LockFile, "lock-file", "f", options.LockFile, "Use this lock file instead of the common one")
		flags.StringVar(&options.FallbackDir, "fallback-dir", options.FallbackDir, "Directory for per-user lock files")
		flags.BoolVarP(&debug, "debug", "D", debug, "Print debugging information")
		return flags
	}

	flags := makeFlags("ipmutex", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {
		fmt.Printf("Usage: ipmutex command [options [...]]\n\n")
		fmt.Printf("Commands:\n\n")
		for _, command := range commands {
			fmt.Printf("  %-30s%s\n", command.names[0], command.usage)
		}
		fmt.Printf("\nOptions:\n")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		os.Exit(1)
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Printf("%v while parsing arguments (1)\n", err)
		flags.Usage()
		os.Exit(1)
	}
	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		os.Exit(1)
		return
	}
	cmd := args[0]

	for _, command := range commands {
		for _, name := range command.names {
			if cmd != name {
				continue
			}
			flags := makeFlags(cmd, pflag.ExitOnError)
			if command.addFlags != nil {
				command.addFlags(flags, &command)
			}
			flags.Usage = func() {
				fmt.Printf("Usage: ipmutex %s %s\n\n", cmd, command.optionsHelp)
				fmt.Printf("%s\n", command.usage)
				fmt.Printf("\nOptions:\n")
				flags.PrintDefaults()
			}
			if err := flags.Parse(args[1:]); err != nil {
				fmt.Printf("%v while parsing arguments (3)", err)
				flags.Usage()
				os.Exit(1)
			}
			args = flags.Args()
			if command.minArgs != 0 && len(args) < command.minArgs {
				fmt.Printf("%s: more arguments required.\n", cmd)
				flags.Usage()
				os.Exit(1)
			}
			if command.maxArgs >= 0 && command.maxArgs < command.minArgs {
				panic(fmt.Sprintf("command %v requires more args (%d) than it allows (%d)", command.names, command.minArgs, command.maxArgs))
			}
			if command.maxArgs >= 0 && len(args) > command.maxArgs {
				fmt.Printf("%s: too many arguments (%s).\n", cmd, args)
				flags.Usage()
				os.Exit(1)
			}
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
				logrus.Debugf("Root: %s", options.SysRoot)
				logrus.Debugf("Lock File: %s", options.LockFile)
				logrus.Debugf("Timeout: %s", options.Timeout)
			} else {
				logrus.SetLevel(logrus.ErrorLevel)
			}
			res, err := command.action(flags, cmd, options, args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%+v\n", err)
			}
			os.Exit(res)
		}
	}
	fmt.Printf("%s: unrecognized command.\n", cmd)
	os.Exit(1)
}

// lockPath resolves the lock file the command operates on.
func lockPath(options types.LockOptions) (string, error) {
	path, err := ipmutex.LockFile(options)
	if err != nil {
		return "", fmt.Errorf("resolving lock file: %w", err)
	}
	return path, nil
}

// outputJSON formats its input as JSON to stdout, and returns values suitable
// for directly returning from command.action
func outputJSON(data any) (int, error) {
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout).Encode(data); err != nil {
		return 1, err
	}
	return 0, nil
}
