package main

import (
	"testing"
)

func TestNewApp(t *testing.T) {
	t.Parallel()

	app := newApp()
	if app.Name != "gamenet" {
		t.Errorf("app name = %q, want gamenet", app.Name)
	}

	names := map[string]bool{}
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, want := range []string{"serve", "version"} {
		if !names[want] {
			t.Errorf("command %q missing", want)
		}
	}
}
