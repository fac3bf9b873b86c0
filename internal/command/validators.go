// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/dyncache/internal/cache"
)

func GlobalFlagsValidator(ctx context.Context, c *cli.Command) error {
	if c.String("query") != "" && c.String("output") == "text" && c.Bool("titles") {
		return errors.New("--titles has no effect with --query")
	}
	return nil
}

var (
	outputFormats = []string{"text", "json", "yaml"}
	storageModes  = []string{cache.Compact.String(), cache.Itemwise.String()}
)

type FlagValidatorType func(any) error

func FlagValidators(value any, validators ...FlagValidatorType) error {
	for _, v := range validators {
		if err := v(value); err != nil {
			return err
		}
	}
	return nil
}

// JammedFlagValidator verifies that the arg following a flag does not begin
// with '--'.  urfave/cli allows this and I don't see how to turn it off.
func JammedFlagValidator(value any) error {
	if s, ok := value.(string); ok && strings.HasPrefix(s, "--") {
		return errors.New("must not begin with '--'")
	}
	return nil
}

func ModeValidator(value any) error {
	s, _ := value.(string)
	if _, err := cache.ParseMode(s); err != nil {
		return fmt.Errorf("must be one of %v", storageModes)
	}
	return nil
}

func NonNegativeValidator(value any) error {
	if n, ok := value.(int); ok && n < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func OutputValidator(value any) error {
	for _, v := range outputFormats {
		if v == value {
			return nil
		}
	}
	return fmt.Errorf("must be one of %v", outputFormats)
}
