package gwconfig

import (
	"regexp"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
)

var envAssignmentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=.*$`)

// parsedPath is the result of splitting a runner's legacy "path" field into
// its executable, any NAME=VALUE environment assignments that preceded it
// (optionally introduced by the literal "env" command), and any arguments
// that followed the executable within the path string itself.
type parsedPath struct {
	Executable  string
	EnvPrefix   map[string]string
	InitialArgs []string
}

// parseRunnerPath splits a runner's "path" config value for back-compat with
// the "env NAME=VALUE... /path/to/binary [args...]" form. A plain executable
// path (the common case) parses to itself with no env prefix and no
// initial args.
func parseRunnerPath(log *logrus.Entry, name, path string) (parsedPath, error) {
	tokens, err := shellwords.Parse(path)
	if err != nil {
		return parsedPath{}, err
	}
	if len(tokens) == 0 {
		return parsedPath{}, nil
	}

	i := 0
	if tokens[i] == "env" {
		log.Warnf("runner %q: legacy \"env\" prefix in path is deprecated, use the runner's env map instead", name)
		i++
	}

	envPrefix := make(map[string]string)
	for i < len(tokens) && envAssignmentPattern.MatchString(tokens[i]) {
		key, value := splitAssignment(tokens[i])
		envPrefix[key] = value
		i++
	}
	if len(envPrefix) > 0 {
		log.Warnf("runner %q: legacy NAME=VALUE prefix in path is deprecated, use the runner's env map instead", name)
	}

	if i >= len(tokens) {
		return parsedPath{EnvPrefix: envPrefix}, nil
	}

	return parsedPath{
		Executable:  tokens[i],
		EnvPrefix:   envPrefix,
		InitialArgs: append([]string(nil), tokens[i+1:]...),
	}, nil
}

func splitAssignment(token string) (string, string) {
	for i := 0; i < len(token); i++ {
		if token[i] == '=' {
			return token[:i], token[i+1:]
		}
	}
	return token, ""
}
