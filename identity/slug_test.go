package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Jane Doe":                 "jane-doe",
		"  Dr. María O'Neil & Co.": "dr-maria-oneil-and-co",
		"Senior Agent -- Sales":    "senior-agent-sales",
		"!!!":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestSlugifyTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "abc "
	}
	got := Slugify(long)
	assert.LessOrEqual(t, len(got), maxSlugLen)
	assert.NotEqual(t, '-', rune(got[len(got)-1]))
}

func TestContentHashIgnoresWhitespace(t *testing.T) {
	a := ContentHash([]byte(`{"ListingKey":"A1","ListPrice":100}`))
	b := ContentHash([]byte("{\n  \"ListingKey\": \"A1\",\n  \"ListPrice\": 100\n}"))
	c := ContentHash([]byte(`{"ListingKey":"A1","ListPrice":101}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
