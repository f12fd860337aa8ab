// Package cron parses classic five-field cron expressions and computes the
// next matching time.
//
//	expr, err := cron.Parse("*/15 9-17 * * 1-5")
//	if err != nil {
//		return err
//	}
//	next, err := expr.Next(time.Now())
//
// The five fields are minute (0-59), hour (0-23), day of month (1-31), month
// (1-12) and day of week (0-7, both 0 and 7 meaning Sunday). Each field
// accepts "*", literal values, ranges, "/" steps and comma-separated lists.
// Seconds resolution, names ("JAN", "MON") and macros ("@daily") are not
// supported.
package cron
