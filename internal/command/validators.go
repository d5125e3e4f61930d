// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/pwacache/internal/attrs"
)

// GlobalFlagsValidator checks the output flags before any work is done, so a
// bad --attrs fails fast instead of after the store has been read.
func GlobalFlagsValidator(_ context.Context, c *cli.Command) error {
	if spec := c.String("attrs"); spec != "" {
		var al attrs.AttrList
		if err := al.Set(spec); err != nil {
			return fmt.Errorf("--attrs: %w", err)
		}
	}
	return nil
}

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
	if strings.HasPrefix(value.(string), "--") {
		return errors.New("must not begin with '--'")
	}
	return nil
}

func NonNegativeValidator(value any) error {
	if value.(int) < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func OutputValidator(value any) error {
	var validOutputFlagValues = []string{"text", "json", "raw", "yaml"}
	if !slices.Contains(validOutputFlagValues, value.(string)) {
		return fmt.Errorf("must be one of %v", validOutputFlagValues)
	}
	return nil
}

func StoreValidator(value any) error {
	var validStores = []string{"memory", "disk", "sqlite", "s3"}
	if !slices.Contains(validStores, strings.ToLower(value.(string))) {
		return fmt.Errorf("must be one of %v", validStores)
	}
	return nil
}
