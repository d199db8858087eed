package harness

import (
	"reflect"
	"strings"

	"ceph-e2e/common/failure"
)

// AssertEqual returns an AssertionError unless actual deeply equals expected.
func AssertEqual(what string, expected, actual interface{}) error {
	if reflect.DeepEqual(expected, actual) {
		return nil
	}
	return &failure.AssertionError{What: what, Expected: expected, Actual: actual}
}

// AssertEqualInts checks that every value equals expected, e.g. a config
// option read back through different queries.
func AssertEqualInts(what string, expected int64, values ...int64) error {
	if len(values) == 0 {
		return &failure.AssertionError{What: what, Expected: expected, Detail: "no value read back"}
	}
	for _, v := range values {
		if v != expected {
			return &failure.AssertionError{What: what, Expected: expected, Actual: values}
		}
	}
	return nil
}

// AssertContains returns an AssertionError unless s contains substr.
func AssertContains(what, s, substr string) error {
	if strings.Contains(s, substr) {
		return nil
	}
	return &failure.AssertionError{What: what, Expected: substr, Actual: strings.TrimSpace(s), Detail: "substring not found"}
}
