// Package toolversion determines the exact version of the dexer binary.
//
// The version string is part of every cache key, so it must identify the
// binary exactly. Pipelines normally pin it in configuration; when they do not
// it is read from the binary's --version output.
package toolversion

import (
	"context"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
)

// VersionFlag is the argument passed to the dexer to print its version.
const VersionFlag = "--version"

// Probe runs binary --version through executor and returns the first
// non-empty line of its output. Output on stderr is used when stdout is empty.
func Probe(ctx context.Context, executor exec.Executor, binary string) (string, error) {
	if binary == "" {
		return "", errors.New(errors.CodeInvalidInput, "tool binary cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, errors.CodeExecutionFailed, "context cancelled")
	}

	result, err := executor.WithContext(ctx).WithDisableColors().Run(binary, VersionFlag)
	if err != nil {
		wrapped := errors.Wrapf(err, errors.CodeExecutionFailed, "failed to run %s %s", binary, VersionFlag)
		if result != nil {
			return "", errors.WithContextMap(wrapped, map[string]interface{}{
				"exit_code": result.ExitCode,
				"stderr":    strings.TrimSpace(result.Stderr),
			})
		}
		return "", wrapped
	}

	if version := firstLine(result.Stdout); version != "" {
		return version, nil
	}
	if version := firstLine(result.Stderr); version != "" {
		return version, nil
	}

	return "", errors.Newf(errors.CodeExecutionFailed, "%s %s printed no version", binary, VersionFlag)
}

// Resolve returns pinned when set and otherwise probes binary.
func Resolve(ctx context.Context, executor exec.Executor, pinned, binary string) (string, error) {
	if pinned = strings.TrimSpace(pinned); pinned != "" {
		return pinned, nil
	}
	return Probe(ctx, executor, binary)
}

func firstLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
