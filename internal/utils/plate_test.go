package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ka 01-ab 1234", "KA01AB1234"},
		{"  mh.12  ", "MH12"},
		{"", ""},
		{"--", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePlate(tc.in), tc.in)
	}
}

func TestIsLegiblePlate(t *testing.T) {
	assert.False(t, IsLegiblePlate(""))
	assert.False(t, IsLegiblePlate("AB1"))
	assert.True(t, IsLegiblePlate("AB12"))
}
