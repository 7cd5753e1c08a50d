// Package fn holds the small functional toolkit the engine pipelines are
// built from: a Result type, composable stages, retries and bounded fan-out.
package fn

// Result[T] carries either a value or an error.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result from an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk returns true if the result is successful.
func (r Result[T]) IsOk() bool { return r.ok }

// IsErr returns true if the result is an error.
func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Error returns the error, or nil for a successful result.
func (r Result[T]) Error() error { return r.err }

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// Failure records the position and error of a failed Result.
type Failure struct {
	Index int
	Err   error
}

// Partition splits results into the indexes that succeeded and the failures,
// both in input order.
func Partition[T any](results []Result[T]) (ok []int, failed []Failure) {
	for i, r := range results {
		if r.ok {
			ok = append(ok, i)
		} else {
			failed = append(failed, Failure{Index: i, Err: r.err})
		}
	}
	return ok, failed
}
