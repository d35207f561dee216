// Package assert panics on programmer errors, it is not for validating input.
package assert

import "fmt"

func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
}

// NotEmptyStr panics if `str` is empty, `name` identifies the value in the
// panic message.
func NotEmptyStr(str, name string) {
	if str == "" {
		panic(fmt.Sprintf("expected %s to be non-empty", name))
	}
}
