package cmd

import (
	"github.com/charmbracelet/huh"
)

// SelectOption is one entry of a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}

// runWithHelp runs fields as a one-group form with key hints shown.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptSelect asks for one of options, defaultIdx preselected.
// It fails when stdin is not a terminal.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value)
		if i == defaultIdx {
			opts[i] = opts[i].Selected(true)
		}
	}
	sel := huh.NewSelect[T]().
		Title(title).
		Options(opts...).
		Value(&value)
	if err := runWithHelp(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question. description may be empty.
func promptConfirm(title, description string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if description != "" {
		c = c.Description(description)
	}
	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}
