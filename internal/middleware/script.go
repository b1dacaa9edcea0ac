package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/mstreamhq/mstream/internal/codec"
	"github.com/mstreamhq/mstream/internal/model"
)

// ScriptBudget bounds one script invocation, per spec.md §4.5.
type ScriptBudget struct {
	MaxDuration   time.Duration
	MaxMemoryByte int
	MaxCallDepth  int
}

var defaultBudget = ScriptBudget{
	MaxDuration:   200 * time.Millisecond,
	MaxMemoryByte: 8 << 20,
	MaxCallDepth:  64,
}

// compiledCache caches one *goja.Program per (service, resource), per
// spec.md §4.5's "script compilation is cached" requirement.
type compiledCache struct {
	mu      sync.Mutex
	entries map[string]*goja.Program
}

func newCompiledCache() *compiledCache {
	return &compiledCache{entries: make(map[string]*goja.Program)}
}

func (c *compiledCache) get(key, source string) (*goja.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.entries[key]; ok {
		return p, nil
	}
	p, err := goja.Compile(key, source, true)
	if err != nil {
		return nil, err
	}
	c.entries[key] = p
	return p, nil
}

var scriptCache = newCompiledCache()

// ScriptMiddleware runs a sandboxed transform(payload, attributes) entry
// point loaded from Service.ScriptPath, modeled on the teacher's
// encode-transform-decode staging collapsed into one sandboxed call. The
// script itself only ever sees a parsed JS object, so this middleware
// transcodes into JSON before invoking it and out of JSON into its own
// declared output_encoding afterward, per spec.md §4.3/§4.4.
type ScriptMiddleware struct {
	ServiceName string
	Resource    string
	ScriptPath  string
	Budget      ScriptBudget

	InputEncoding  model.Encoding // previous step's output_encoding; empty means JSON already
	InputSchema    *model.SchemaRecord
	OutputEncoding model.Encoding // this step's declared output_encoding; empty means JSON
	OutputSchema   *model.SchemaRecord

	// Engine bounds concurrent script execution; nil uses the shared
	// process-wide pool.
	Engine *ScriptEngine
}

func (m *ScriptMiddleware) engine() *ScriptEngine {
	if m.Engine != nil {
		return m.Engine
	}
	return defaultEngine
}

func (m *ScriptMiddleware) budget() ScriptBudget {
	if m.Budget == (ScriptBudget{}) {
		return defaultBudget
	}
	return m.Budget
}

func (m *ScriptMiddleware) Apply(ctx context.Context, payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	result := m.engine().run(ctx, func() scriptResult {
		out, attrs, err := m.apply(payload, attributes)
		return scriptResult{payload: out, attributes: attrs, err: err}
	})
	return result.payload, result.attributes, result.err
}

func (m *ScriptMiddleware) apply(payload []byte, attributes map[string]string) ([]byte, map[string]string, error) {
	src, err := os.ReadFile(m.ScriptPath)
	if err != nil {
		return nil, nil, &model.ConfigError{Connector: m.Resource, Reason: fmt.Sprintf("reading script %q: %v", m.ScriptPath, err)}
	}
	cacheKey := m.ServiceName + "/" + m.Resource
	program, err := scriptCache.get(cacheKey, string(src))
	if err != nil {
		return nil, nil, fmt.Errorf("middleware: compiling script %q: %w", m.ScriptPath, err)
	}

	budget := m.budget()
	vm := goja.New()
	vm.SetMaxCallStackSize(budget.MaxCallDepth)
	registerHelpers(vm)

	timer := time.AfterFunc(budget.MaxDuration, func() {
		vm.Interrupt("operation budget exceeded")
	})
	defer timer.Stop()

	if _, err := vm.RunProgram(program); err != nil {
		return nil, nil, fmt.Errorf("middleware: loading script %q: %w", m.ScriptPath, err)
	}

	transform, ok := goja.AssertFunction(vm.Get("transform"))
	if !ok {
		return nil, nil, fmt.Errorf("middleware: script %q does not define transform(payload, attributes)", m.ScriptPath)
	}

	jsonPayload := payload
	if m.InputEncoding != "" && m.InputEncoding != model.EncodingJSON {
		converted, err := codec.Convert(payload, m.InputEncoding, model.EncodingJSON, m.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("middleware: script %q: transcoding input: %w", m.ScriptPath, err)
		}
		jsonPayload = converted
	}

	var payloadArg interface{}
	if err := json.Unmarshal(jsonPayload, &payloadArg); err != nil {
		payloadArg = string(jsonPayload)
	}

	result, err := transform(goja.Undefined(), vm.ToValue(payloadArg), vm.ToValue(attributes))
	if err != nil {
		return nil, nil, fmt.Errorf("middleware: script %q failed: %w", m.ScriptPath, err)
	}

	out, err := json.Marshal(result.Export())
	if err != nil {
		return nil, nil, fmt.Errorf("middleware: marshaling script result: %w", err)
	}
	if len(out) > budget.MaxMemoryByte {
		return nil, nil, fmt.Errorf("middleware: script %q result exceeds memory budget (%d bytes)", m.ScriptPath, len(out))
	}

	if m.OutputEncoding != "" && m.OutputEncoding != model.EncodingJSON {
		converted, err := codec.Convert(out, model.EncodingJSON, m.OutputEncoding, m.OutputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("middleware: script %q: transcoding output: %w", m.ScriptPath, err)
		}
		out = converted
	}

	return out, attributes, nil
}

// registerHelpers exposes the built-in helpers spec.md §4.5 names: current
// time in ms, SHA-256 hex digest, email/phone masking, ISO-date year
// truncation.
func registerHelpers(vm *goja.Runtime) {
	vm.Set("nowMillis", func() int64 {
		return time.Now().UnixMilli()
	})
	vm.Set("sha256Hex", func(s string) string {
		sum := sha256.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	})
	vm.Set("maskEmail", maskEmail)
	vm.Set("maskPhone", maskPhone)
	vm.Set("truncateYear", truncateYear)
}
