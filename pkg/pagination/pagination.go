package pagination

const (
	// DefaultLimit is the page size when a limit is not provided.
	DefaultLimit = 100
	// MaxLimit caps how many rows any list query can request.
	MaxLimit = 1000
)

// Params holds offset pagination inputs from handlers or services.
type Params struct {
	Offset int
	Limit  int
}

// NormalizeLimit enforces the default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// NormalizeOffset clamps negative offsets to zero.
func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// Normalize returns a copy of p with both bounds applied.
func (p Params) Normalize() Params {
	return Params{Offset: NormalizeOffset(p.Offset), Limit: NormalizeLimit(p.Limit)}
}
