package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/beobal/csp"
)

func runVersion(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	addGlobalFlags(fs)
	long := fs.Bool("long", false, "Also print the description and README")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: csp version [--long]

Options:
`)
		fs.PrintDefaults()
	}

	if err := parseFlags(fs, args); err != nil {
		return err
	}

	fmt.Printf("%s %s\n", csp.Name, csp.Version)
	if !*long {
		return nil
	}

	fmt.Printf("%s\n%s\nLicense: %s\nGo: %s %s/%s\n\n%s\n",
		csp.Description, csp.URL, csp.License,
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
		csp.LongDescription())
	return nil
}
