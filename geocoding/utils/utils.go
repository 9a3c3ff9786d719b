// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"strconv"

	"golang.org/x/text/language"
)

// UnderscoreLocale turns a language tag into the "ll_RR" form some providers
// expect. A tag without region gets its most likely one ("ru" becomes "ru_RU",
// "en" becomes "en_US"). fallback is returned for tags that don't parse.
func UnderscoreLocale(tag, fallback string) string {
	t, err := language.Parse(tag)
	if err != nil {
		return fallback
	}

	base, conf := t.Base()
	if conf == language.No {
		return fallback
	}

	region, conf := t.Region()
	if conf == language.No {
		return fallback
	}

	return base.String() + "_" + region.String()
}

// FormatInt formats an integer with commas for human readability.
func FormatInt(n int64) string {
	in := strconv.FormatInt(n, 10)

	numOfDigits := len(in)
	if n < 0 {
		numOfDigits-- // First character is the - sign (not a digit)
	}

	numOfCommas := (numOfDigits - 1) / 3

	out := make([]byte, len(in)+numOfCommas)
	if n < 0 {
		in, out[0] = in[1:], '-'
	}

	for i, j, k := len(in)-1, len(out)-1, 0; ; i, j = i-1, j-1 {
		out[j] = in[i]
		if i == 0 {
			return string(out)
		}

		if k++; k == 3 {
			j, k = j-1, 0
			out[j] = ','
		}
	}
}
