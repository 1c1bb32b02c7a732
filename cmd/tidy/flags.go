package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/jamesainslie/tidy/pkg/tidy/organizer"
)

// parseOverrides turns repeated "glob=Category" flags into a map.
func parseOverrides(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(values))
	for _, v := range values {
		pattern, category, ok := strings.Cut(v, "=")
		pattern, category = strings.TrimSpace(pattern), strings.TrimSpace(category)
		if !ok || pattern == "" || category == "" {
			return nil, fmt.Errorf("invalid override %q: want glob=Category", v)
		}
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid override pattern %q: %w", pattern, err)
		}
		out[pattern] = category
	}
	return out, nil
}

func addOrganizeFlags(f *pflag.FlagSet) {
	f.BoolP("dry-run", "n", false, "record the plan without changing files (default from config)")
	f.Bool("copy", false, "copy files into categories instead of moving them")
	f.Bool("allow-uncategorized", false, "file low-confidence documents under Uncategorized")
	f.Float64("threshold", 0, "confidence threshold for this run, 0 to 1")
	f.StringArray("override", nil, "force a category for a glob, as glob=Category (repeatable)")
}

// organizeOptions builds per-run options from the organize flags. Flags
// left unset fall back to the configuration.
func organizeOptions(flags *pflag.FlagSet) (organizer.Options, error) {
	opts := organizer.Options{DryRun: cfg.DryRun}
	if flags.Changed("dry-run") {
		dryRun, err := flags.GetBool("dry-run")
		if err != nil {
			return opts, err
		}
		opts.DryRun = dryRun
	}

	var err error
	if opts.Copy, err = flags.GetBool("copy"); err != nil {
		return opts, err
	}
	if opts.AllowUncategorized, err = flags.GetBool("allow-uncategorized"); err != nil {
		return opts, err
	}

	if flags.Changed("threshold") {
		t, err := flags.GetFloat64("threshold")
		if err != nil {
			return opts, err
		}
		if t < 0 || t > 1 {
			return opts, fmt.Errorf("threshold %v outside [0,1]", t)
		}
		opts.ConfidenceThreshold = &t
	}

	raw, err := flags.GetStringArray("override")
	if err != nil {
		return opts, err
	}
	if opts.CategoryOverrides, err = parseOverrides(raw); err != nil {
		return opts, err
	}

	return opts, nil
}
