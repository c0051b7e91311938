package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testItem struct {
	Link
	val int
}

func collect(l *List) []int {
	var out []int
	l.Range(func(link *Link) {
		out = append(out, ItemOf[testItem](link).val)
	})
	return out
}

func TestListInsertTailOrder(t *testing.T) {
	var l List
	l.Init()
	require.True(t, l.Empty())

	items := []*testItem{{val: 1}, {val: 2}, {val: 3}}
	for _, it := range items {
		l.InsertTail(&it.Link)
	}

	require.False(t, l.Empty())
	require.Equal(t, []int{1, 2, 3}, collect(&l))
	require.Equal(t, 1, ItemOf[testItem](l.Head()).val)
}

func TestListRemove(t *testing.T) {
	var l List
	l.Init()

	a, b, c := &testItem{val: 1}, &testItem{val: 2}, &testItem{val: 3}
	l.InsertTail(&a.Link)
	l.InsertTail(&b.Link)
	l.InsertTail(&c.Link)

	l.Remove(&b.Link)
	require.Equal(t, []int{1, 3}, collect(&l))

	l.Remove(&a.Link)
	l.Remove(&c.Link)
	require.True(t, l.Empty())
}

func TestListSplice(t *testing.T) {
	var dst, src List
	dst.Init()
	src.Init()

	d1 := &testItem{val: 1}
	dst.InsertTail(&d1.Link)

	s1, s2 := &testItem{val: 2}, &testItem{val: 3}
	src.InsertTail(&s1.Link)
	src.InsertTail(&s2.Link)

	dst.Splice(&src)

	require.True(t, src.Empty())
	require.Equal(t, []int{1, 2, 3}, collect(&dst))
}

func TestListSpliceEmptySource(t *testing.T) {
	var dst, src List
	dst.Init()
	src.Init()

	d1 := &testItem{val: 1}
	dst.InsertTail(&d1.Link)

	dst.Splice(&src)
	require.Equal(t, []int{1}, collect(&dst))
}
