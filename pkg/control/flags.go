package control

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/openfroyo/spinup/pkg/engine"
)

// VariableFlags returns a flag set with one optional flag per variable,
// named by Variable.FlagName. Unknown flags are tolerated so the set can
// parse a command line that also carries the global flags.
func VariableFlags(vars []engine.Variable) (*pflag.FlagSet, map[string]engine.Variable) {
	fs := pflag.NewFlagSet("variables", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)

	byFlag := make(map[string]engine.Variable, len(vars))
	for _, v := range vars {
		name := v.FlagName()
		if name == "" || fs.Lookup(name) != nil {
			continue
		}
		fs.String(name, "", describeVariable(v))
		byFlag[name] = v
	}
	return fs, byFlag
}

// ApplyVariableFlags selects the value of every variable flag present in
// args and returns how many were applied.
func ApplyVariableFlags(args []string, vars []engine.Variable) (int, error) {
	fs, byFlag := VariableFlags(vars)
	if err := fs.Parse(args); err != nil {
		return 0, engine.NewConfigurationError("invalid variable flag", err).
			WithCode(engine.ErrCodeInvalidValue)
	}

	applied := 0
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		if err := byFlag[f.Name].SelectText(f.Value.String()); err != nil {
			firstErr = err
			return
		}
		applied++
	})
	return applied, firstErr
}

func describeVariable(v engine.Variable) string {
	if value, ok := v.Current(); ok {
		return fmt.Sprintf("%s (current: %v)", v.Name(), value)
	}
	return v.Name()
}
