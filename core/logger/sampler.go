package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// sampler admits num of every den events. A zero ratio admits everything.
type sampler struct {
	ratio atomic.Uint64 // num<<32 | den
	seen  atomic.Uint64
}

func (s *sampler) set(num, den int) {
	if num <= 0 || den <= 0 {
		s.ratio.Store(0)
		return
	}
	num = min(num, den)
	s.ratio.Store(uint64(num)<<32 | uint64(uint32(den)))
	s.seen.Store(0)
}

func (s *sampler) allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	num, den := r>>32, r&0xffffffff
	return (s.seen.Add(1)-1)%den < num
}

// parseRatio reads "num/den" or a bare "den" meaning 1/den. A bare value of
// zero or less disables sampling.
func parseRatio(raw string) (num, den int, ok bool) {
	raw = strings.TrimSpace(raw)
	if a, b, found := strings.Cut(raw, "/"); found {
		n, errN := strconv.Atoi(strings.TrimSpace(a))
		d, errD := strconv.Atoi(strings.TrimSpace(b))
		return n, d, errN == nil && errD == nil
	}
	d, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, 0, false
	case d <= 0:
		return 0, 0, true
	}
	return 1, d, true
}
