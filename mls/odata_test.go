package mls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, "'O''Brien'", Quote("O'Brien"))
}

func TestStatusFilter(t *testing.T) {
	got := StatusFilter("StandardStatus", []string{"Active", "Pending"}, "ListOfficeMlsId", "OFF1")
	assert.Equal(t, "(StandardStatus eq 'Active' or StandardStatus eq 'Pending') and ListOfficeMlsId eq 'OFF1'", got)

	assert.Equal(t, "StandardStatus eq 'Active'", StatusFilter("StandardStatus", []string{"Active"}, "ListOfficeMlsId", ""))
	assert.Equal(t, "", StatusFilter("StandardStatus", nil, "", ""))
}

func TestQueryValues(t *testing.T) {
	v := Query{Top: 50, Select: []string{"ListingKey", "ListPrice"}, OrderBy: "ListPrice desc", Count: true}.Values()

	assert.Equal(t, "50", v.Get("$top"))
	assert.Equal(t, "ListingKey,ListPrice", v.Get("$select"))
	assert.Equal(t, "ListPrice desc", v.Get("$orderby"))
	assert.Equal(t, "true", v.Get("$count"))
	assert.Empty(t, v.Get("$skip"))
}
