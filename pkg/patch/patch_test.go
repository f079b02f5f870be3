package patch

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openintent-protocol/openintent/pkg/models"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		state   models.JSONMap
		ops     []Op
		want    models.JSONMap
		wantErr string
	}{
		{
			name:  "set leaf",
			state: models.JSONMap{},
			ops:   []Op{{Op: "set", Path: "result", Value: float64(42)}},
			want:  models.JSONMap{"result": float64(42)},
		},
		{
			name:  "set creates intermediate maps",
			state: models.JSONMap{},
			ops:   []Op{{Op: "set", Path: "progress/step/current", Value: "build"}},
			want: models.JSONMap{
				"progress": map[string]any{"step": map[string]any{"current": "build"}},
			},
		},
		{
			name:  "set overwrites existing leaf",
			state: models.JSONMap{"result": "old"},
			ops:   []Op{{Op: "set", Path: "result", Value: "new"}},
			want:  models.JSONMap{"result": "new"},
		},
		{
			name:  "append creates sequence",
			state: models.JSONMap{},
			ops:   []Op{{Op: "append", Path: "log", Value: "first"}},
			want:  models.JSONMap{"log": []any{"first"}},
		},
		{
			name:  "append extends sequence",
			state: models.JSONMap{"log": []any{"first"}},
			ops:   []Op{{Op: "append", Path: "log", Value: "second"}},
			want:  models.JSONMap{"log": []any{"first", "second"}},
		},
		{
			name:    "append to scalar fails",
			state:   models.JSONMap{"log": "not a list"},
			ops:     []Op{{Op: "append", Path: "log", Value: "x"}},
			wantErr: "cannot append",
		},
		{
			name:  "remove deletes leaf",
			state: models.JSONMap{"a": float64(1), "b": float64(2)},
			ops:   []Op{{Op: "remove", Path: "a"}},
			want:  models.JSONMap{"b": float64(2)},
		},
		{
			name:  "remove absent path is a no-op",
			state: models.JSONMap{"a": float64(1)},
			ops:   []Op{{Op: "remove", Path: "missing/deep"}},
			want:  models.JSONMap{"a": float64(1)},
		},
		{
			name:  "remove through scalar is a no-op",
			state: models.JSONMap{"a": "scalar"},
			ops:   []Op{{Op: "remove", Path: "a/b"}},
			want:  models.JSONMap{"a": "scalar"},
		},
		{
			name:  "ops apply left to right",
			state: models.JSONMap{},
			ops: []Op{
				{Op: "set", Path: "x", Value: float64(1)},
				{Op: "set", Path: "x", Value: float64(2)},
				{Op: "remove", Path: "x"},
				{Op: "set", Path: "x", Value: float64(3)},
			},
			want: models.JSONMap{"x": float64(3)},
		},
		{
			name:    "set through scalar intermediate fails",
			state:   models.JSONMap{"a": "scalar"},
			ops:     []Op{{Op: "set", Path: "a/b", Value: float64(1)}},
			wantErr: "not an object",
		},
		{
			name:    "unknown op fails",
			state:   models.JSONMap{},
			ops:     []Op{{Op: "merge", Path: "a", Value: float64(1)}},
			wantErr: "unknown op",
		},
		{
			name:    "empty path fails",
			state:   models.JSONMap{},
			ops:     []Op{{Op: "set", Path: "", Value: float64(1)}},
			wantErr: "path is empty",
		},
		{
			name:    "empty segment fails",
			state:   models.JSONMap{},
			ops:     []Op{{Op: "set", Path: "a//b", Value: float64(1)}},
			wantErr: "empty segment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.state, tt.ops)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRejectsWholeListOnError(t *testing.T) {
	state := models.JSONMap{"keep": "me"}
	ops := []Op{
		{Op: "set", Path: "applied", Value: true},
		{Op: "append", Path: "keep", Value: "boom"},
	}
	got, err := Apply(state, ops)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, models.JSONMap{"keep": "me"}, state, "input state must stay untouched")
}

func TestApplyNeverMutatesInput(t *testing.T) {
	state := models.JSONMap{"nested": map[string]any{"n": float64(1)}}
	_, err := Apply(state, []Op{{Op: "set", Path: "nested/n", Value: float64(9)}})
	require.NoError(t, err)
	assert.Equal(t, float64(1), state["nested"].(map[string]any)["n"])
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(nil), "empty list")
	assert.Error(t, Validate([]Op{{Op: "bogus", Path: "a"}}))
	assert.Error(t, Validate([]Op{{Op: "set", Path: ""}}))
	assert.NoError(t, Validate([]Op{{Op: "set", Path: "a/b", Value: 1}, {Op: "remove", Path: "a"}}))
}

func genSegment() gopter.Gen {
	return gen.OneConstOf("alpha", "beta", "gamma", "delta", "result", "progress")
}

func genPath() gopter.Gen {
	return gen.SliceOfN(3, genSegment()).Map(func(segs []string) string {
		return segs[0] + "/" + segs[1] + "/" + segs[2]
	})
}

// Setting a fresh path and then removing it restores the pre-patch state.
func TestSetThenRemoveRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("set then remove restores absent paths", prop.ForAll(
		func(path string, value string) bool {
			before := models.JSONMap{}
			mid, err := Apply(before, []Op{{Op: OpSet, Path: path, Value: value}})
			if err != nil {
				return false
			}
			after, err := Apply(mid, []Op{{Op: OpRemove, Path: path}})
			if err != nil {
				return false
			}
			// Removing the leaf leaves created intermediates behind;
			// removing the path root restores the original empty tree.
			final, err := Apply(after, []Op{{Op: OpRemove, Path: firstSegment(path)}})
			if err != nil {
				return false
			}
			return len(final) == 0
		},
		genPath(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Applying the same set twice is idempotent.
func TestSetIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("set is idempotent", prop.ForAll(
		func(path string, value string) bool {
			once, err := Apply(models.JSONMap{}, []Op{{Op: OpSet, Path: path, Value: value}})
			if err != nil {
				return false
			}
			twice, err := Apply(once, []Op{{Op: OpSet, Path: path, Value: value}})
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(once, twice)
		},
		genPath(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func firstSegment(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}
