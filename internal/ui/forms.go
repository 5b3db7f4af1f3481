package ui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// ErrNotInteractive is returned by forms when there is no terminal.
var ErrNotInteractive = errors.New("an interactive terminal is required")

// Registration is the result of RegisterForm.
type Registration struct {
	Name  string
	Email string
}

// RegisterForm asks for a display name and an email, prefilled with the
// given values.
func RegisterForm(defaults Registration) (*Registration, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}
	r := defaults
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Display name").
				Value(&r.Name).
				Validate(requireText("name")),
			huh.NewInput().
				Title("Email").
				Value(&r.Email).
				Validate(validateEmail),
		),
	)
	if err := form.Run(); err != nil {
		return nil, err
	}
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	return &r, nil
}

// PlayQuiz asks every question in order and returns the chosen answers.
func PlayQuiz(questions []*schema.Question) ([]string, error) {
	if !IsInteractive() {
		return nil, ErrNotInteractive
	}
	answers := make([]string, len(questions))
	groups := make([]*huh.Group, 0, len(questions))
	for i, q := range questions {
		groups = append(groups, huh.NewGroup(
			huh.NewSelect[string]().
				Title(q.Text).
				Options(huh.NewOptions(q.Options...)...).
				Value(&answers[i]),
		))
	}
	if err := huh.NewForm(groups...).Run(); err != nil {
		return nil, err
	}
	return answers, nil
}

// Grade counts correct answers. Missing answers count as wrong.
func Grade(questions []*schema.Question, answers []string) int {
	score := 0
	for i := range questions {
		if i < len(answers) && questions[i].IsCorrect(answers[i]) {
			score++
		}
	}
	return score
}

func requireText(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

func validateEmail(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 || strings.ContainsAny(s, " \t") {
		return errors.New("not an email address")
	}
	return nil
}
