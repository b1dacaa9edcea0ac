package middleware

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"gotest.tools/v3/assert"

	"github.com/mstreamhq/mstream/internal/model"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "transform.js")
	assert.NilError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestScriptMiddlewareTransformsPayload(t *testing.T) {
	path := writeScript(t, `
		function transform(payload, attributes) {
			payload.masked = maskEmail(payload.email);
			return payload;
		}
	`)
	m := &ScriptMiddleware{ServiceName: "udf1", Resource: "mask-email", ScriptPath: path}

	out, _, err := m.Apply(context.Background(), []byte(`{"email":"jane.doe@x.com"}`), map[string]string{})
	assert.NilError(t, err)
	assert.Assert(t, string(out) != "")
}

func TestScriptMiddlewareCachesCompiledProgram(t *testing.T) {
	path := writeScript(t, `function transform(p, a) { return p; }`)
	m := &ScriptMiddleware{ServiceName: "udf1", Resource: "passthrough", ScriptPath: path}

	_, _, err := m.Apply(context.Background(), []byte(`{"a":1}`), map[string]string{})
	assert.NilError(t, err)

	key := m.ServiceName + "/" + m.Resource
	scriptCache.mu.Lock()
	_, cached := scriptCache.entries[key]
	scriptCache.mu.Unlock()
	assert.Assert(t, cached)
}

func TestScriptMiddlewareTranscodesBSONInputToJSON(t *testing.T) {
	path := writeScript(t, `
		function transform(payload, attributes) {
			payload.seen = true;
			return payload;
		}
	`)
	bsonPayload, err := bson.Marshal(bson.M{"name": "jane"})
	assert.NilError(t, err)

	m := &ScriptMiddleware{
		ServiceName:   "udf1",
		Resource:      "bson-in",
		ScriptPath:    path,
		InputEncoding: model.EncodingBSON,
	}

	out, _, err := m.Apply(context.Background(), bsonPayload, map[string]string{})
	assert.NilError(t, err)
	assert.Assert(t, string(out) != "")
}

func TestScriptMiddlewareTranscodesOutputToBSON(t *testing.T) {
	path := writeScript(t, `function transform(p, a) { return p; }`)

	m := &ScriptMiddleware{
		ServiceName:    "udf1",
		Resource:       "bson-out",
		ScriptPath:     path,
		OutputEncoding: model.EncodingBSON,
	}

	out, _, err := m.Apply(context.Background(), []byte(`{"a":1}`), map[string]string{})
	assert.NilError(t, err)

	var decoded bson.M
	assert.NilError(t, bson.Unmarshal(out, &decoded))
	assert.Equal(t, decoded["a"].(int32), int32(1))
}

func TestScriptEngineBoundsConcurrentRuns(t *testing.T) {
	path := writeScript(t, `function transform(p, a) { return p; }`)
	engine := &ScriptEngine{sem: make(chan struct{}, 1)}
	m1 := &ScriptMiddleware{ServiceName: "udf1", Resource: "slow-a", ScriptPath: path, Engine: engine}
	m2 := &ScriptMiddleware{ServiceName: "udf1", Resource: "slow-b", ScriptPath: path, Engine: engine}

	var inFlight int32
	var maxSeen int32
	track := func(m *ScriptMiddleware) {
		engine.run(context.Background(), func() scriptResult {
			cur := atomic.AddInt32(&inFlight, 1)
			if cur > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, cur)
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return scriptResult{}
		})
	}

	done := make(chan struct{}, 2)
	go func() { track(m1); done <- struct{}{} }()
	go func() { track(m2); done <- struct{}{} }()
	<-done
	<-done

	assert.Equal(t, maxSeen, int32(1))
}

func TestScriptMiddlewareRejectsMissingEntryPoint(t *testing.T) {
	path := writeScript(t, `function notTransform() {}`)
	m := &ScriptMiddleware{ServiceName: "udf1", Resource: "broken", ScriptPath: path}

	_, _, err := m.Apply(context.Background(), []byte(`{}`), map[string]string{})
	assert.ErrorContains(t, err, "does not define transform")
}
