package trigger

// window holds the most recent members, oldest first
type window struct {
	items []Member
	size  int
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	return &window{items: make([]Member, 0, size), size: size}
}

// grow raises the capacity to at least n
func (w *window) grow(n int) {
	if n > w.size {
		w.size = n
	}
}

func (w *window) push(m Member) {
	if len(w.items) == w.size {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, m)
}

// endsWith reports whether the newest members equal p
func (w *window) endsWith(p Pattern) bool {
	if len(p) == 0 || len(p) > len(w.items) {
		return false
	}
	off := len(w.items) - len(p)
	for i := len(p) - 1; i >= 0; i-- {
		if w.items[off+i] != p[i] {
			return false
		}
	}
	return true
}

func (w *window) clear() { w.items = w.items[:0] }

func (w *window) len() int { return len(w.items) }

func (w *window) snapshot() []Member {
	return append([]Member(nil), w.items...)
}
