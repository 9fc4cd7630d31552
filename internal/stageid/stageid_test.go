package stageid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsParseable(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParse(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    ID
		wantErr string
	}{
		{name: "canonical", input: "0b7c43a8-4d43-4f4e-9c3d-2f4b0f3b8a11", want: "0b7c43a8-4d43-4f4e-9c3d-2f4b0f3b8a11"},
		{name: "upper case is normalised", input: "0B7C43A8-4D43-4F4E-9C3D-2F4B0F3B8A11", want: "0b7c43a8-4d43-4f4e-9c3d-2f4b0f3b8a11"},
		{name: "surrounding whitespace", input: "  0b7c43a8-4d43-4f4e-9c3d-2f4b0f3b8a11 ", want: "0b7c43a8-4d43-4f4e-9c3d-2f4b0f3b8a11"},
		{name: "empty", input: "", wantErr: "must not be empty"},
		{name: "garbage", input: "stage-1", wantErr: "invalid id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseJob(t *testing.T) {
	j, err := ParseJob(" WO-1042 ")
	require.NoError(t, err)
	assert.Equal(t, JobID("WO-1042"), j)

	_, err = ParseJob("")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = ParseJob("a/b")
	assert.ErrorContains(t, err, "must not contain")
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
}
