package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

const weatherFn = `{"type":"function","function":{"name":"get_weather","description":"weather","parameters":{"type":"object","properties":{"city":{"type":"string"}}}}}`

func tool(id, base, secret, schema string) domain.Tool {
	return domain.Tool{ID: id, BaseURL: base, SecretCode: secret, FunctionSchema: json.RawMessage(schema)}
}

func TestClassifyShapes(t *testing.T) {
	cases := []struct {
		raw     string
		shape   SchemaShape
		entries int
	}{
		{raw: weatherFn, shape: ShapeSingleFunction, entries: 1},
		{raw: `{"tools":[` + weatherFn + `,` + weatherFn + `]}`, shape: ShapeToolContainer, entries: 2},
		{raw: `[` + weatherFn + `]`, shape: ShapeRawArray, entries: 1},
		{raw: `{"tools":"nope"}`, shape: ShapeMalformed},
		{raw: `"string"`, shape: ShapeMalformed},
		{raw: ``, shape: ShapeMalformed},
		{raw: `{broken`, shape: ShapeMalformed},
	}
	for _, tc := range cases {
		got := Classify(json.RawMessage(tc.raw))
		assert.Equal(t, tc.shape, got.Shape, "raw=%s", tc.raw)
		assert.Len(t, got.Entries, tc.entries, "raw=%s", tc.raw)
	}
}

func TestResolveAllShapes(t *testing.T) {
	tools := []domain.Tool{
		tool("t1", "https://a.example.com", "sa", weatherFn),
		tool("t2", "https://b.example.com/", "", `{"tools":[{"type":"function","function":{"name":"send_sms","parameters":{"type":"object"}}}]}`),
		tool("t3", "https://c.example.com", "sc", `[{"type":"function","function":{"name":"lookup"}}]`),
	}

	cat := Resolve(tools)
	require.Len(t, cat.Specs, 3)
	assert.Equal(t, []string{"get_weather", "send_sms", "lookup"}, specNames(cat))

	target, ok := cat.Lookup("send_sms")
	require.True(t, ok)
	assert.Equal(t, "t2", target.ToolID)
	assert.Equal(t, "https://b.example.com/", target.Endpoint)
	assert.Empty(t, target.Secret)

	lookup := cat.Specs[2]
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(lookup.Parameters))
}

func TestResolveDropsMalformedWithoutAffectingSiblings(t *testing.T) {
	tools := []domain.Tool{
		tool("bad", "https://x.example.com", "", `{not json`),
		tool("good", "https://a.example.com", "", weatherFn),
		tool("mixed", "https://m.example.com", "", `[{"type":"function","function":{"name":""}},{"type":"retrieval"},{"type":"function","function":{"name":"ok_fn"}}]`),
	}

	cat := Resolve(tools)
	assert.Equal(t, []string{"get_weather", "ok_fn"}, specNames(cat))
	_, ok := cat.Lookup("ok_fn")
	assert.True(t, ok)
}

func TestResolveDuplicateNameFirstWins(t *testing.T) {
	tools := []domain.Tool{
		tool("first", "https://first.example.com", "", weatherFn),
		tool("second", "https://second.example.com", "", weatherFn),
	}

	cat := Resolve(tools)
	require.Len(t, cat.Specs, 1)
	target, _ := cat.Lookup("get_weather")
	assert.Equal(t, "first", target.ToolID)
	assert.Equal(t, "https://first.example.com", target.Endpoint)
}

func TestResolveIsIdempotent(t *testing.T) {
	tools := []domain.Tool{
		tool("t1", "https://a.example.com", "", weatherFn),
		tool("t2", "https://b.example.com", "", `[{"type":"function","function":{"name":"lookup"}}]`),
	}
	assert.Equal(t, Resolve(tools), Resolve(tools))
}

func TestResolveEmpty(t *testing.T) {
	cat := Resolve(nil)
	assert.True(t, cat.Empty())
	assert.NotNil(t, cat.Dispatch)
}

func specNames(cat Catalog) []string {
	names := make([]string, 0, len(cat.Specs))
	for _, spec := range cat.Specs {
		names = append(names, spec.Name)
	}
	return names
}
