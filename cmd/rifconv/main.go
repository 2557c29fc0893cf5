package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"megpoid.xyz/go/go-psunpack/pkg"
)

func checkFatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// checkPackage opens name and compares its content ID with the license.
func checkPackage(name, contentID string) error {
	p, err := pkg.OpenFile(name)
	if err != nil {
		return err
	}
	defer p.Close()

	h, err := p.Header()
	if err != nil {
		return err
	}

	if h.GetContentID() != contentID {
		return fmt.Errorf("license is for %s, package is %s", contentID, h.GetContentID())
	}

	fmt.Fprintf(os.Stderr, "License matches %s\n", p.Format())
	return nil
}

func main() {
	license := flag.String("l", "", "License in zRIF format")
	input := flag.String("i", "", "Raw license file to encode")
	output := flag.String("o", "", "File the converted license is written to")
	pkgFile := flag.String("p", "", "Check the zRIF license against this package")

	flag.Parse()

	if *input == "" && *license == "" {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *input != "" && *license != "" {
		checkFatal(errors.New("use either a zRIF license or a license file"))
	}

	if *license != "" {
		lic, err := pkg.DecodeLicense(*license, 0)
		checkFatal(err)

		contentID := pkg.LicenseContentID(lic, 0)
		fmt.Fprintf(os.Stderr, "Content ID: %s\n", contentID)

		if *pkgFile != "" {
			checkFatal(checkPackage(*pkgFile, contentID))
		}

		if *output != "" {
			err = os.WriteFile(*output, lic, 0644)
			checkFatal(err)
		} else {
			os.Stdout.Write(lic)
		}
	} else if *input != "" {
		lic, err := os.ReadFile(*input)
		checkFatal(err)

		rif, err := pkg.EncodeLicense(lic)
		checkFatal(err)

		fmt.Println(rif)
	}
}
