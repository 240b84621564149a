package dirinstaller

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/pkgbroker/internal/logger"
)

// commLength is how many bytes of an executable name Linux reports for a process.
const commLength = 15

// terminateProcesses kills every process running the package executable.
func terminateProcesses(ctx context.Context, packageName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID || !runsPackage(process.Executable(), packageName) {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return fmt.Errorf("kill %d: %w", process.Pid(), err)
		}

		logger.InfoKV(ctx, "Stopped package process", "package", packageName, "pid", process.Pid())
	}

	return nil
}

// runsPackage matches a process executable name against a package, allowing for
// the kernel truncating long names.
func runsPackage(executable, packageName string) bool {
	if executable == "" {
		return false
	}

	if executable == packageName {
		return true
	}

	return len(executable) == commLength && strings.HasPrefix(packageName, executable)
}
