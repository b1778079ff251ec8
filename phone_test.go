package auth_test

import (
	"testing"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "ten digits", input: "5551234567", expected: "+15551234567"},
		{name: "formatted ten digits", input: "(555) 123-4567", expected: "+15551234567"},
		{name: "eleven digits with leading one", input: "15551234567", expected: "+15551234567"},
		{name: "dashed eleven digits", input: "1-555-123-4567", expected: "+15551234567"},
		{name: "already international", input: "+15551234567", expected: "+15551234567"},
		{name: "international with spaces", input: "+1 555 123 4567", expected: "+15551234567"},
		{name: "foreign number keeps country code", input: "+254712345678", expected: "+254712345678"},
		{name: "uk number unchanged", input: "+447911123456", expected: "+447911123456"},
		{name: "ten digits after plus follow the digit rule", input: "+6591234567", expected: "+16591234567"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.NormalizePhone(tt.input))
		})
	}
}
