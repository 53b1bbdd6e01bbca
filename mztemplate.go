// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Command mztemplate builds a feature template from a labelled training
// batch of MALDI-TOF spectra and projects validation batches onto it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"

	"github.com/524D/mztemplate/internal/mzml"
)

// Program name and version, appended to software list in mzML output
const progName = "mztemplate"

var progVersion = `Unknown`

// ErrRangeSpec is returned for a malformed or empty lo:hi range
var ErrRangeSpec = errors.New("invalid range specified")

// Data processing step added to aligned mzML files
var alignmentProcessing = mzml.DataProcessing{
	ID: progName,
	ProcessingMeth: []mzml.ProcessingMethod{
		{
			Order:       0,
			SoftwareRef: progName,
			CvPar: []mzml.CVParam{
				{
					CvRef:     "MS",
					Accession: `MS:1001485`,
					Name:      `m/z calibration`,
				},
			},
		},
	},
}

var floatRangeRe = regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	m := floatRangeRe.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
