package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetermine(t *testing.T) {
	testCases := []struct {
		country  string
		city     string
		expected string
	}{
		{"United States", "New York", "us-east-1"},
		{"US", "Seattle", "us-west-2"},
		{"  DE ", "Berlin", "eu-central-1"},
		{"Japan", "Osaka", "ap-northeast-3"},
		{"BR", "São Paulo", "sa-east-1"},
		{"Canada", "Calgary", Global},
		{"Atlantis", "Poseidonia", Global},
		{"", "", Global},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Determine(tc.country, tc.city), "%s/%s", tc.country, tc.city)
	}
}
