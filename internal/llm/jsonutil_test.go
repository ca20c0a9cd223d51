package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// ExtractJSON
// ==========================

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "plain object",
			text: `{"verdict": "approved"}`,
			want: `{"verdict": "approved"}`,
		},
		{
			name: "fenced block",
			text: "Sure!\n```json\n{\"verdict\": \"approved\"}\n```\nLet me know.",
			want: `{"verdict": "approved"}`,
		},
		{
			name: "fence without language tag",
			text: "```\n{\"score\": 0.9}\n```",
			want: `{"score": 0.9}`,
		},
		{
			name: "object embedded in prose",
			text: `The result is {"score": 0.82, "notes": ["ok"]} as requested.`,
			want: `{"score": 0.82, "notes": ["ok"]}`,
		},
		{
			name: "nested braces inside strings",
			text: `{"message": "use {placeholder} here", "ok": true}`,
			want: `{"message": "use {placeholder} here", "ok": true}`,
		},
		{
			name: "trailing comma cleanup",
			text: `{"a": 1, "b": 2,}`,
			want: `{"a": 1, "b": 2}`,
		},
		{
			name: "line comment cleanup",
			text: "{\n// confidence estimate\n\"score\": 0.5\n}",
			want: "{\n\n\"score\": 0.5\n}",
		},
		{
			name:    "no json at all",
			text:    "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "unbalanced braces",
			text:    `{"a": 1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestDecodeStructured(t *testing.T) {
	var out struct {
		Verdict string  `json:"verdict"`
		Score   float64 `json:"score"`
	}

	err := DecodeStructured("verdict below\n```json\n{\"verdict\": \"needs_revision\", \"score\": 0.74}\n```", &out)

	require.NoError(t, err)
	assert.Equal(t, "needs_revision", out.Verdict)
	assert.InDelta(t, 0.74, out.Score, 1e-9)
}

func TestDecodeStructuredTypeMismatch(t *testing.T) {
	var out struct {
		Score float64 `json:"score"`
	}
	err := DecodeStructured(`{"score": "high"}`, &out)
	assert.Error(t, err)
}
