package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageOptionsNormalize(t *testing.T) {
	o := PageOptions{Limit: 0, Offset: -3, Order: "weird"}.Normalize()
	assert.Equal(t, DefaultPageLimit, o.Limit)
	assert.Zero(t, o.Offset)
	assert.Equal(t, OrderAsc, o.Order)

	o = PageOptions{Limit: 10_000, Order: OrderDesc}.Normalize()
	assert.Equal(t, MaxPageLimit, o.Limit)
	assert.Equal(t, OrderDesc, o.Order)
}

func TestPaginate(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	p := Paginate(all, PageOptions{Limit: 2, Offset: 1})
	assert.Equal(t, []int{2, 3}, p.Items)
	assert.Equal(t, 5, p.Total)
	assert.True(t, p.HasMore)

	p = Paginate(all, PageOptions{Limit: 2, Offset: 4})
	assert.Equal(t, []int{5}, p.Items)
	assert.False(t, p.HasMore)

	p = Paginate(all, PageOptions{Limit: 2, Offset: 9})
	assert.Equal(t, []int{}, p.Items)
	assert.False(t, p.HasMore)
}

func TestAuthorOfFallsBackToIdentity(t *testing.T) {
	a := AuthorOf(t.Context(), nil, Identity{UserID: "u1", Username: "ada"})
	assert.Equal(t, Author{ID: "u1", Username: "ada"}, a)
}
