package runner

import (
	"fmt"
	"math"

	"github.com/user/assetlink/internal/asset"
	"github.com/user/assetlink/internal/params"
	"github.com/user/assetlink/internal/types"
)

// SetParameter applies a loosely typed override, as decoded from JSON, YAML
// or a CLI flag, through the typed setter matching the definition.
func SetParameter(inst *asset.Instance, def asset.Definition, name string, v any) error {
	var pd *params.Definition
	for i := range def.Parameters {
		if def.Parameters[i].Name == name {
			pd = &def.Parameters[i]
			break
		}
	}
	if pd == nil {
		return fmt.Errorf("%w: %q", types.ErrParameterNotFound, name)
	}

	switch pd.Type {
	case params.Bool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("%w: %q wants a bool, got %T", types.ErrParameterType, name, v)
		}
		return inst.SetBoolParameter(name, b)
	case params.Int:
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", types.ErrParameterType, name, err)
		}
		return inst.SetIntParameter(name, n)
	case params.Float:
		f, err := toFloat(v)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", types.ErrParameterType, name, err)
		}
		return inst.SetFloatParameter(name, f)
	case params.String:
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case bool, int, int64, float64:
			// Command-line overrides arrive typed; "--set tag=7" still means "7".
			s = fmt.Sprint(x)
		default:
			return fmt.Errorf("%w: %q wants a string, got %T", types.ErrParameterType, name, v)
		}
		return inst.SetStringParameter(name, s)
	case params.Enum:
		if s, ok := v.(string); ok {
			return inst.SetEnumParameter(name, s)
		}
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", types.ErrParameterType, name, err)
		}
		return inst.SetEnumIndexParameter(name, n)
	}
	return fmt.Errorf("%w: %q has unknown type %q", types.ErrParameterType, name, pd.Type)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("want a number, got %T", v)
}
