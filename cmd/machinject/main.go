package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gitlab.com/stephen-fox/machinject/inject"
	"gitlab.com/stephen-fox/machinject/mach"
	"gitlab.com/stephen-fox/machinject/payload"
	"gitlab.com/stephen-fox/machinject/process"
)

const (
	appName = "machinject"

	usage = "usage:\nsudo " + appName + " [pid] [dylib_path]"
)

var (
	verboseFlag       bool
	symbolFlags       []string
	keepOnFailureFlag bool
	noAbsFlag         bool

	logger = logrus.New()
)

func main() {
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})

	rootCmd := &cobra.Command{
		Use:   appName + " PID DYLIB-PATH",
		Short: "Load a dynamic library into a running process",
		Long: `Load a dynamic library into a running process.

The library path is written into the target along with a small code
cave that calls dlopen on it from a new thread. Run as root, and make
sure the injector was built for the target's architecture.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errUsage
			}
			return nil
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verboseFlag {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: runInject,
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false,
		"Log each injection step")
	rootCmd.PersistentFlags().StringArrayVar(&symbolFlags, "symbol", nil,
		"Override a runtime function address (NAME=0xADDR, repeatable)")
	rootCmd.Flags().BoolVar(&keepOnFailureFlag, "keep-on-failure", false,
		"Leave remote memory allocated if injection fails")
	rootCmd.Flags().BoolVar(&noAbsFlag, "no-abs", false,
		"Pass the library path to the target as given instead of making it absolute")

	rootCmd.AddCommand(newPayloadCmd())

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(usage)
		} else {
			fmt.Println(describeFailure(err))
		}

		os.Exit(1)
	}
}

var errUsage = errors.New("wrong number of arguments")

func runInject(cmd *cobra.Command, args []string) error {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		// The injector reports non-positive pids as bad parameters.
		pid = -1
	}

	libraryPath := args[1]
	if !noAbsFlag && libraryPath != "" {
		abs, err := filepath.Abs(libraryPath)
		if err != nil {
			return errors.Wrap(err, "failed to make library path absolute")
		}
		libraryPath = abs
	}

	if _, err := os.Stat(libraryPath); err != nil {
		logger.WithError(err).Warn("library path may not be loadable by the target")
	}

	if !process.IsPrivileged() {
		logger.Warn("not running as root - task_for_pid will likely fail")
	}

	if pid > 0 {
		info, err := process.Lookup(pid)
		if err != nil {
			logger.WithError(err).Debug("failed to describe target")
		} else {
			logger.Debugf("target: %s", info)
		}
	}

	kernel, err := mach.Host()
	if err != nil {
		return err
	}

	resolver, err := newResolver(symbolFlags)
	if err != nil {
		return err
	}

	injector, err := inject.New(inject.Config{
		Kernel:        kernel,
		Resolver:      resolver,
		OptLogger:     logger,
		KeepOnFailure: keepOnFailureFlag,
	})
	if err != nil {
		return err
	}

	result, err := injector.Inject(pid, libraryPath)
	if err != nil {
		logger.WithError(err).Debug("injection failed")
		return err
	}

	fmt.Print(describeSuccess(result))

	return nil
}

// newResolver returns the --symbol overrides backed by dlsym.
func newResolver(symbolArgs []string) (payload.Resolver, error) {
	overrides, err := parseSymbols(symbolArgs)
	if err != nil {
		return nil, err
	}

	dlsym, err := payload.DlsymResolver()
	if err != nil {
		if len(overrides.Symbols()) < len(payload.RuntimeSymbols()) {
			return nil, err
		}

		// Every runtime function was overridden.
		return overrides, nil
	}

	return payload.Resolvers{overrides, dlsym}, nil
}
