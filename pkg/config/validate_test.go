package config

import (
	"errors"
	"testing"
)

type fakeValidatable []error

func (f fakeValidatable) Validate() []error { return f }

func TestValidate(t *testing.T) {
	t.Parallel()

	a := fakeValidatable{errors.New("a")}
	b := fakeValidatable{errors.New("b"), errors.New("c")}

	if got := Validate(a, b); len(got) != 3 {
		t.Errorf("Validate() = %v, want 3 errors", got)
	}
	if got := Validate(); len(got) != 0 {
		t.Errorf("Validate() = %v, want none", got)
	}
}
