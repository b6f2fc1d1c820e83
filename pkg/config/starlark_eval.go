package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator runs plugin-supplied derivation hooks. A hook script
// defines a derive(config, cloud) function that returns a dict of derived
// configuration values; scripts are sandboxed and time-bounded.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Derive executes a hook script's derive function against an application
// configuration and the cloud configuration, returning the derived values.
func (se *StarlarkEvaluator) Derive(ctx context.Context, script string, appConfig, cloudConfig map[string]interface{}) (map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	resultCh := make(chan map[string]interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.deriveSync(script, appConfig, cloudConfig)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("derivation hook timed out after %v", se.timeout)
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

// deriveSync performs the actual evaluation synchronously.
func (se *StarlarkEvaluator) deriveSync(script string, appConfig, cloudConfig map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: "cloudlift",
		Print: func(_ *starlark.Thread, _ string) {
			// Hook output is not a side channel.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, "hook.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("hook script failed: %w", err)
	}

	deriveFn, ok := globals["derive"]
	if !ok {
		return nil, fmt.Errorf("hook script must define a derive function")
	}

	configVal, err := toStarlarkValue(appConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to convert app config: %w", err)
	}
	cloudVal, err := toStarlarkValue(cloudConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to convert cloud config: %w", err)
	}

	result, err := starlark.Call(thread, deriveFn, starlark.Tuple{configVal, cloudVal}, nil)
	if err != nil {
		return nil, fmt.Errorf("derive call failed: %w", err)
	}

	out, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("failed to convert derive result: %w", err)
	}

	derived, ok := out.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("derive must return a dict, got %T", out)
	}
	return derived, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
