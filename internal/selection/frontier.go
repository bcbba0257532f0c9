package selection

import "container/heap"

type frontierEntry struct {
	score float64
	seq   int
	id    string
}

// frontier is a max-heap on score; equal scores pop in discovery order.
type frontier []frontierEntry

var _ heap.Interface = (*frontier)(nil)

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].score != f[j].score {
		return f[i].score > f[j].score
	}
	return f[i].seq < f[j].seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(frontierEntry)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

func (f *frontier) push(e frontierEntry) { heap.Push(f, e) }

func (f *frontier) pop() frontierEntry { return heap.Pop(f).(frontierEntry) }
