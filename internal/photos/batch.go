package photos

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ItemError is one failed item of a batch.
type ItemError struct {
	Item string
	Err  error
}

// BatchError summarises a batch in which some items failed. It renders as
// one message so the user gets a single alert.
type BatchError struct {
	Op     string
	Total  int
	Failed []ItemError
}

func (e *BatchError) add(item string, err error) {
	e.Failed = append(e.Failed, ItemError{Item: item, Err: err})
}

func (e *BatchError) errOrNil() error {
	if len(e.Failed) == 0 {
		return nil
	}
	sort.Slice(e.Failed, func(i, j int) bool { return e.Failed[i].Item < e.Failed[j].Item })
	return e
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d failed: %s", e.Op, len(e.Failed), e.Total, strings.Join(e.Items(), ", "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Err)
	}
	return out
}

// Items lists the failed item names.
func (e *BatchError) Items() []string {
	out := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Item)
	}
	return out
}

// AsBatch unwraps err into a *BatchError.
func AsBatch(err error) (*BatchError, bool) {
	var b *BatchError
	ok := errors.As(err, &b)
	return b, ok
}
