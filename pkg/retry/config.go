// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"fmt"
	"time"
)

// Config is the externalized retry policy, typically one YAML section per
// wrapped dependency.
type Config struct {
	// Mode selects the strategy: "fixed", "incremental", "exponential", or
	// "" for no retries.
	Mode string `yaml:"mode" json:"mode"`

	// Count is the number of retries after the initial attempt.
	Count int `yaml:"count" json:"count"`

	// Interval is used by fixed mode.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// InitialInterval and Increment are used by incremental mode.
	InitialInterval time.Duration `yaml:"initialInterval" json:"initialInterval"`
	Increment       time.Duration `yaml:"increment" json:"increment"`

	// MinBackoff, MaxBackoff and Delta are used by exponential mode.
	MinBackoff time.Duration `yaml:"minBackoff" json:"minBackoff"`
	MaxBackoff time.Duration `yaml:"maxBackoff" json:"maxBackoff"`
	Delta      time.Duration `yaml:"delta" json:"delta"`
}

// Build resolves the config into a Strategy. An empty mode yields nil,
// meaning a single attempt with no retries.
func (c Config) Build() (Strategy, error) {
	switch c.Mode {
	case "":
		return nil, nil
	case "fixed":
		return FixedInterval(c.Count, c.Interval), nil
	case "incremental":
		return IncrementInterval(c.Count, c.InitialInterval, c.Increment), nil
	case "exponential":
		return ExponentialBackoff(c.Count, c.MinBackoff, c.MaxBackoff, c.Delta), nil
	default:
		return nil, fmt.Errorf("unrecognized retry mode %q", c.Mode)
	}
}
