package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/structflow/structflow/internal/schema"
	"github.com/structflow/structflow/internal/tools"
)

// Script is a tool implemented in Lua. The file must define a global
// function invoke(args) returning a string, number, boolean or table.
type Script struct {
	Name        string
	Description string
	Path        string
	Parameters  *schema.Descriptor
}

// Tool checks that the script exists. Each call runs it in a fresh state.
func (s Script) Tool() (tools.Descriptor, error) {
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		return tools.Descriptor{}, fmt.Errorf("script %q: path: %w", s.Name, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return tools.Descriptor{}, fmt.Errorf("script %q: %w", s.Name, err)
	}
	return tools.Descriptor{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.Parameters,
		Handler: tools.HandlerFunc(func(ctx context.Context, args schema.Result) (any, error) {
			return RunScript(ctx, abs, args)
		}),
	}, nil
}

// RunScript runs invoke(args) from the script at path. Scripts may use
// os.getenv and os.time.
func RunScript(ctx context.Context, path string, args map[string]any) (any, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.SetContext(ctx)

	lState.PreloadModule("os", osModuleLoader)

	if err := lState.DoFile(path); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	fn := lState.GetGlobal("invoke")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function invoke(args)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("invoke must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(toLua(lState, map[string]any(args)))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("invoke(): %w", err)
	}
	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTString, lua.LTNumber, lua.LTBool, lua.LTTable, lua.LTNil:
		return fromLua(ret), nil
	default:
		return nil, fmt.Errorf("invoke() must return a string, number, boolean or table, got %s", ret.Type().String())
	}
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case []string:
		t := L.NewTable()
		for _, s := range x {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, e := range x {
			t.Append(toLua(L, e))
		}
		return t
	case schema.Result:
		return toLua(L, map[string]any(x))
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			L.SetField(t, k, toLua(L, e))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}

// fromLua converts tables with only 1..n keys to lists and everything else
// to maps.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case lua.LBool:
		return bool(x)
	case *lua.LTable:
		if n := x.MaxN(); n > 0 && n == countKeys(x) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLua(x.RawGetInt(i)))
			}
			return out
		}
		out := map[string]any{}
		x.ForEach(func(k, e lua.LValue) {
			out[k.String()] = fromLua(e)
		})
		return out
	}
	return nil
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
