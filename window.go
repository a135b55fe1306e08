package lattice

// DefaultWindow is the default number of agreement instances that may
// be in progress at once.
const DefaultWindow = 8

// window is the range of agreement IDs a node is willing to track:
// [bottom, bottom+size). Every tracked, uncollected instance lies in
// it, so no more than size instances are ever undecided.
type window struct {
	bottom AgreementID
	size   int
}

type admission int

const (
	admit     admission = iota
	collected           // below the window, already garbage-collected
	refuse              // beyond the window, try again later
)

func (w *window) admit(id AgreementID) admission {
	if id < w.bottom {
		return collected
	}
	if uint64(id) >= uint64(w.bottom)+uint64(w.size) {
		return refuse
	}
	return admit
}

func (w *window) advance() {
	w.bottom++
}
