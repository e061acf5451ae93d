package main

import (
	"errors"
	"fmt"
)

var errMissingProvider = errors.New(
	"no model provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY, or pass -provider")

func errUnknownProvider(name string) error {
	return fmt.Errorf("unknown provider %q: valid values are openai and anthropic", name)
}
