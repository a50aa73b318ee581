package jsonutils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"fenced":         {in: "here you go\n```json\n{\"action\":\"done\"}\n```\nthanks", want: `{"action":"done"}`},
		"bare fence":     {in: "```\n[1,2]\n```", want: `[1,2]`},
		"raw object":     {in: `I will click. {"action":"click","index":3} ok`, want: `{"action":"click","index":3}`},
		"raw array":      {in: `result: [{"url":"a"}]`, want: `[{"url":"a"}]`},
		"trailing comma": {in: `{"a":1,}`, want: `{"a":1}`},
		"bom":            {in: "\uFEFF{\"a\":1}", want: `{"a":1}`},
		"no json":        {in: "nothing here", want: "nothing here"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestExtractJSONKeepsEscapedQuotes(t *testing.T) {
	in := `{"content":"he said \"hi\""}`
	out := ExtractJSON(in)
	require.True(t, json.Valid([]byte(out)))
	assert.Equal(t, in, out)
}

func TestUnwrap(t *testing.T) {
	raw, ok := Unwrap(json.RawMessage(`"[{\"url\":\"https://example.com/a\"}]"`))
	require.True(t, ok)
	assert.JSONEq(t, `[{"url":"https://example.com/a"}]`, string(raw))

	raw, ok = Unwrap(json.RawMessage(`{"url":"x"}`))
	require.True(t, ok)
	assert.Equal(t, `{"url":"x"}`, string(raw))

	_, ok = Unwrap(json.RawMessage(`"just prose"`))
	assert.False(t, ok)
}

func TestExtractJSONLeavesValidInputAlone(t *testing.T) {
	in := "{\"action\":\"done\",\"params\":{\"result\":{\"content\":\"Install:\\n```json\\n{\\\"a\\\": 1}\\n```\"}}}"
	require.True(t, json.Valid([]byte(in)))
	assert.Equal(t, in, ExtractJSON(in))
	assert.Equal(t, in, ExtractJSON("\n  "+in+"\n"))
}

func TestExtractJSONKeepsInvisibleCharactersInValues(t *testing.T) {
	in := "{\"content\":\"a\u200bb\u200dc\ufeff\"}"
	assert.Equal(t, in, ExtractJSON(in))
	assert.Equal(t, in, ExtractJSON("sure:\n```json\n"+in+"\n```"))
}

func TestExtractJSONFencedWithTrailingComma(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1,}\n```"))
}
