package region

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdid/internal/errors"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		sub     bool
		wantErr bool
	}{
		{in: "FI", want: "FI"},
		{in: "us-ca", want: "US-CA", sub: true},
		{in: "FR-20R", want: "FR-20R", sub: true},
		{in: "SE-M", want: "SE-M", sub: true},
		{in: "", wantErr: true},
		{in: "USA", wantErr: true},
		{in: "US-", wantErr: true},
		{in: "US-CA-X", wantErr: true},
		{in: "U1", wantErr: true},
		{in: "GB-ENGL", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			id, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
			assert.Equal(t, tt.sub, id.IsSubdivision())
		})
	}
}

// Every subdivision built from the table has the form CC-suffix with one hyphen.
func TestSubdivisionShape(t *testing.T) {
	t.Parallel()

	table, err := DefaultTable()
	require.NoError(t, err)

	for _, cc := range table.Countries() {
		for _, suffix := range table.Suffixes(cc) {
			id, err := NewSubdivision(cc, suffix)
			require.NoError(t, err, "%s-%s", cc, suffix)

			s := id.String()
			assert.Equal(t, 1, strings.Count(s, "-"), s)
			prefix, _, _ := strings.Cut(s, "-")
			assert.Equal(t, cc, prefix)
			assert.Equal(t, cc, id.CountryCode())
			assert.Equal(t, cc, id.Country().String())
		}
	}
}

func TestIDJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Region ID `json:"region"`
	}
	data, err := json.Marshal(payload{Region: MustParse("US-NY")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"region":"US-NY"}`, string(data))

	var got payload
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, MustParse("US-NY"), got.Region)

	require.Error(t, json.Unmarshal([]byte(`{"region":"nowhere"}`), &got))
}
