package canonjson

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_OrderAndWhitespaceIndependent(t *testing.T) {
	a := []byte(`{"patient":{"name":"Ana","age":41},"drugs":["warfarina","aas"]}`)
	b := []byte(`{
		"drugs" : [ "warfarina", "aas" ],
		"patient": { "age": 41.0, "name": "Ana" }
	}`)

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"drugs":["warfarina","aas"],"patient":{"age":41,"name":"Ana"}}`, string(ca))
}

func TestCanonicalize_Numbers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`5`, `5`},
		{`5.0`, `5`},
		{`5e0`, `5`},
		{`-0`, `0`},
		{`-0.0`, `0`},
		{`0.5`, `0.5`},
		{`1.50`, `1.5`},
		{`1e21`, `1e+21`},
		{`-12`, `-12`},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Canonicalize([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestCanonicalize_UnicodeNormalization(t *testing.T) {
	// "é" precomposed vs "e" + combining acute accent.
	composed := []byte("{\"nombre\":\"Jos\u00e9\"}")
	decomposed := []byte("{\"nombre\":\"Jose\u0301\"}")

	a, err := Canonicalize(composed)
	require.NoError(t, err)
	b, err := Canonicalize(decomposed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_NoHTMLEscaping(t *testing.T) {
	got, err := Canonicalize([]byte(`{"note":"<b>&</b>"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"note":"<b>&</b>"}`, string(got))
}

func TestCanonicalize_Errors(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)

	_, err = Canonicalize([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestMarshal_StructAndMapAgree(t *testing.T) {
	type rx struct {
		Medication string `json:"medication"`
		Dose       string `json:"dose"`
	}
	fromStruct, err := Marshal(rx{Medication: "warfarina", Dose: "5mg"})
	require.NoError(t, err)
	fromMap, err := Marshal(map[string]any{"dose": "5mg", "medication": "warfarina"})
	require.NoError(t, err)
	fromRaw, err := Marshal(json.RawMessage(`{"medication":"warfarina","dose":"5mg"}`))
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
	assert.Equal(t, fromStruct, fromRaw)
}

func TestMarshal_Golden(t *testing.T) {
	doc := map[string]any{
		"type": "prescription",
		"patient": map[string]any{
			"name":  "María López",
			"birth": "1980-04-02",
		},
		"items": []any{
			map[string]any{"medication": "warfarina", "dose": "5mg", "per_day": 1.0},
			map[string]any{"medication": "omeprazol", "dose": "20mg", "per_day": 2},
		},
		"notes":  "tomar <con> comida & agua",
		"urgent": false,
		"refill": nil,
	}

	got, err := Marshal(doc)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "prescription", got)
}
