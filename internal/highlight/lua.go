package highlight

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaTokenizer delegates tokenization to a user-provided Lua script that
// defines a global `tokenize(line)` function returning an array of
// `{start=<1-based byte offset>, len=<length>, kind=<kind string>}` tables.
// The script runs with a restricted library set, the same way workflow
// scripts are sandboxed elsewhere in this codebase's lineage: no io, no os,
// no load.
type LuaTokenizer struct {
	mu       sync.Mutex
	state    *lua.LState
	fallback Tokenizer
	log      *slog.Logger
}

// LoadLua compiles the script at path and verifies it defines tokenize().
func LoadLua(path string, fallback Tokenizer, log *slog.Logger) (*LuaTokenizer, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read highlighter script: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}
	if fallback == nil {
		fallback = NewBuiltin()
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibs(L)

	if err := L.DoString(string(script)); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load highlighter script: %w", err)
	}

	if L.GetGlobal("tokenize") == lua.LNil {
		L.Close()
		return nil, fmt.Errorf("highlighter script must define a 'tokenize' function")
	}

	return &LuaTokenizer{state: L, fallback: fallback, log: log}, nil
}

func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// Tokenize calls into the Lua script. Any script error or malformed result
// falls back to the builtin tokenizer; the editor never breaks on a bad
// plugin. The Lua state is not goroutine safe, hence the lock.
func (t *LuaTokenizer) Tokenize(line string) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	L := t.state
	fn := L.GetGlobal("tokenize")

	L.Push(fn)
	L.Push(lua.LString(line))
	if err := L.PCall(1, 1, nil); err != nil {
		t.log.Warn("highlighter script failed", "error", err)
		return t.fallback.Tokenize(line)
	}

	ret := L.Get(-1)
	L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return t.fallback.Tokenize(line)
	}

	spans := make([]Span, 0, tbl.Len())
	valid := true
	tbl.ForEach(func(_, v lua.LValue) {
		entry, ok := v.(*lua.LTable)
		if !ok {
			valid = false
			return
		}
		start := int(lua.LVAsNumber(entry.RawGetString("start")))
		length := int(lua.LVAsNumber(entry.RawGetString("len")))
		kind := Kind(lua.LVAsString(entry.RawGetString("kind")))
		if start < 1 || length < 0 || start-1+length > len(line) {
			valid = false
			return
		}
		if kind == "" {
			kind = KindText
		}
		spans = append(spans, Span{Start: start - 1, Len: length, Kind: kind})
	})

	if !valid || len(spans) == 0 {
		return t.fallback.Tokenize(line)
	}
	return spans
}

// Close releases the Lua state.
func (t *LuaTokenizer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Close()
}

// Load returns the Lua tokenizer at path when it exists and loads cleanly,
// and the builtin tokenizer otherwise.
func Load(path string, log *slog.Logger) Tokenizer {
	builtin := NewBuiltin()

	if _, err := os.Stat(path); err != nil {
		return builtin
	}

	t, err := LoadLua(path, builtin, log)
	if err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("ignoring broken highlighter script", "path", path, "error", err)
		return builtin
	}
	return t
}
