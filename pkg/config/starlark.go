package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gopkg.in/yaml.v3"
)

// StarlarkGlobal is the global a Starlark config must define.
const StarlarkGlobal = "deployment"

// DefaultStarlarkTimeout bounds the execution of a Starlark config.
const DefaultStarlarkTimeout = 10 * time.Second

// StarlarkEvaluator turns a Starlark script into a DeploymentConfig. The
// script runs with no file or network access. Besides struct() it sees
// getenv(name, default="") so one file can serve several environments.
type StarlarkEvaluator struct {
	timeout time.Duration
	getenv  func(string) (string, bool)
}

// NewStarlarkEvaluator creates an evaluator. A zero timeout selects
// DefaultStarlarkTimeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout, getenv: os.LookupEnv}
}

// Parse executes the script and decodes its deployment global. The value
// is decoded with the same strict rules as a YAML file.
func (se *StarlarkEvaluator) Parse(ctx context.Context, file string, content []byte) (*DeploymentConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "converge-config",
		Print: func(*starlark.Thread, string) {},
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(fmt.Sprintf("config evaluation exceeded %s", se.timeout))
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"getenv": starlark.NewBuiltin("getenv", se.builtinGetenv),
	}
	globals, err := starlark.ExecFile(thread, file, content, predeclared)
	if err != nil {
		return nil, ValidationErrors{{File: file, Message: err.Error()}}
	}

	value, ok := globals[StarlarkGlobal]
	if !ok {
		return nil, ValidationErrors{{File: file, Message: fmt.Sprintf("script must define %q", StarlarkGlobal)}}
	}
	doc, err := fromStarlarkValue(value)
	if err != nil {
		return nil, ValidationErrors{{File: file, Path: StarlarkGlobal, Message: err.Error()}}
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, ValidationErrors{{File: file, Path: StarlarkGlobal, Message: "must be a dict or struct, got " + value.Type()}}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", StarlarkGlobal, err)
	}
	return ParseYAML(file, out)
}

func (se *StarlarkEvaluator) builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := se.getenv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

// fromStarlarkValue converts a Starlark value to plain Go data.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s too large", val)
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key %s is not a string", item[0])
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		names := val.AttrNames()
		sort.Strings(names)
		dict := make(map[string]interface{}, len(names))
		for _, name := range names {
			attr, err := val.Attr(name)
			if err != nil {
				return nil, err
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) ([]interface{}, error) {
	list := make([]interface{}, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}
