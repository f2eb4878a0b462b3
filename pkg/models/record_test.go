package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsIndependent(t *testing.T) {
	orig := Record{"id": "A1", "value": 4.5}
	copied := orig.Clone()

	copied["id"] = "A2"
	copied["extra"] = true

	assert.Equal(t, "A1", orig["id"])
	assert.NotContains(t, orig, "extra")
}

func TestCloneNil(t *testing.T) {
	var r Record
	assert.Nil(t, r.Clone())
}

func TestSubsetOmitsAbsentColumns(t *testing.T) {
	r := Record{"id": "A1", "doi": nil}

	sub := r.Subset([]string{"id", "doi", "missing"})
	assert.Equal(t, Record{"id": "A1", "doi": nil}, sub)
	assert.NotContains(t, sub, "missing")
}

func TestColumnsSorted(t *testing.T) {
	r := Record{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, r.Columns())
}

func TestCloneAll(t *testing.T) {
	set := []Record{{"id": "A1"}, {"id": "A2"}}
	copied := CloneAll(set)

	copied[0]["id"] = "changed"
	assert.Equal(t, "A1", set[0]["id"])
}
