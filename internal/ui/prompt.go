package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"discover/pkg/resource"
)

// Confirm prompts the user for yes/no confirmation.
func Confirm(prompt string, defaultYes bool) (bool, error) {
	label := prompt
	if defaultYes {
		label += " [Y/n]"
	} else {
		label += " [y/N]"
	}

	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if defaultYes {
		p.Default = "y"
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, err
		}
		return defaultYes, nil
	}

	result = strings.ToLower(strings.TrimSpace(result))
	if result == "" {
		return defaultYes, nil
	}
	return result == "y" || result == "yes", nil
}

// SelectResource asks which of several matching resources to act on.
func SelectResource(items []resource.Snapshot, prompt string) (*resource.Snapshot, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no resources to select from")
	}
	if len(items) == 1 {
		return &items[0], nil
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .DisplayName | cyan }} {{ .Version | green }} [{{ .Backend | magenta }}/{{ .Scope }}/{{ .Origin }}]",
		Inactive: "  {{ .DisplayName }} {{ .Version | faint }} [{{ .Backend | faint }}/{{ .Scope | faint }}/{{ .Origin | faint }}]",
		Selected: "✓ {{ .DisplayName | cyan }} [{{ .Backend | magenta }}]",
		Details: `
--------- Resource ----------
{{ "Name:" | faint }}	{{ .Name }}
{{ "Branch:" | faint }}	{{ .Branch }}
{{ "State:" | faint }}	{{ .State }}
{{ "Summary:" | faint }}	{{ .Comment }}`,
	}

	searcher := func(input string, index int) bool {
		it := items[index]
		input = strings.ToLower(input)
		return strings.Contains(strings.ToLower(it.Name), input) ||
			strings.Contains(strings.ToLower(it.DisplayName), input)
	}

	p := promptui.Select{
		Label:     prompt,
		Items:     items,
		Templates: templates,
		Size:      10,
		Searcher:  searcher,
	}

	index, _, err := p.Run()
	if err != nil {
		return nil, err
	}
	return &items[index], nil
}
