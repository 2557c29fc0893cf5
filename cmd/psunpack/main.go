package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"runtime"

	"github.com/dustin/go-humanize"
	"megpoid.xyz/go/go-psunpack/pkg"
	"megpoid.xyz/go/go-psunpack/pkg/crypt"
)

func checkFatal(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func isValidUrl(toTest string) bool {
	u, err := url.ParseRequestURI(toTest)

	if err == nil && u.Scheme != "" {
		return true
	} else {
		return false
	}
}

// download stores the package behind rawURL in a temporary file, since the
// reader needs random access.
func download(rawURL string) (string, error) {
	response, err := http.Get(rawURL)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: %s", response.Status)
	}

	f, err := os.CreateTemp("", "psunpack-*.pkg")
	if err != nil {
		return "", err
	}
	defer f.Close()

	n, err := io.Copy(f, response.Body)
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}

	fmt.Printf("Downloaded %s\n", humanize.Bytes(uint64(n)))
	return f.Name(), nil
}

func listEntries(p *pkg.Package) error {
	entries, err := p.Entries()
	if err != nil {
		return err
	}

	for _, e := range entries {
		kind := "f"
		switch {
		case e.IsDir():
			kind = "d"
		case e.IsBlocked():
			kind = "b"
		case e.IsCompressed():
			kind = "c"
		}
		if e.IsEncrypted() {
			kind += "e"
		}

		fmt.Printf("%5d %-2s %10s  %s\n", e.Index, kind, humanize.Bytes(uint64(e.OutputSize())), e.Name)
	}

	return nil
}

func main() {
	input := flag.String("i", "", "Package file or URL (required)")
	license := flag.String("l", "", "License in zRIF format")
	output := flag.String("o", "", "Directory to extract the files")
	zipped := flag.Bool("z", false, "Create a zipfile from the pkg file")
	keyFile := flag.String("k", "", "PEM RSA private key for PS4/PS5 package key material")
	workers := flag.Int("j", runtime.NumCPU(), "Number of entries extracted in parallel")
	list := flag.Bool("list", false, "List the entries instead of extracting them")
	verbose := flag.Bool("v", false, "Log parser decisions to stderr")

	flag.Parse()

	if *input == "" || (*output == "" && !*list) {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	var opts []pkg.OpenOption

	if *license != "" {
		opts = append(opts, pkg.WithLicense(*license))
	}

	if *keyFile != "" {
		key, err := crypt.LoadPrivateKey(*keyFile)
		checkFatal(err)
		opts = append(opts, pkg.WithRSAKey(key))
	}

	if *verbose {
		opts = append(opts, pkg.WithLogger(log.New(os.Stderr, "psunpack: ", log.Ltime)))
	}

	name := *input
	if isValidUrl(name) {
		tmp, err := download(name)
		checkFatal(err)
		defer os.Remove(tmp)
		name = tmp
	}

	r, err := pkg.OpenFile(name, opts...)
	checkFatal(err)
	defer r.Close()

	if *list {
		fmt.Printf("%s %s\n", r.Format(), r.GetTitleID())
		checkFatal(listEntries(r))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	title := r.GetTitle()
	if title == "" {
		title = r.Format().String()
	}
	fmt.Printf("Unpacking %s\n", title)

	if !*zipped {
		progress := pkg.WithProgress(func(done int64) {
			fmt.Printf("\r%s written", humanize.Bytes(uint64(done)))
		})
		err = r.Unpack(ctx, *output, pkg.WithWorkers(*workers), progress)
		fmt.Println()
	} else {
		var zipPath string
		zipPath, err = r.CreateZip(ctx, *output)
		if err == nil {
			fmt.Printf("Created %s\n", zipPath)
		}
	}

	checkFatal(err)

	sum, err := r.Verify()
	if err != nil {
		// only PS3 format packages carry a checksum
		return
	}

	if sum.Valid() {
		fmt.Printf("PKG hash check OK\n")
	} else {
		fmt.Printf("PKG SHA1 check failed\n")
		fmt.Printf("Actual:   %x\n", sum.Calculated)
		fmt.Printf("Expected: %x\n", sum.Expected)
	}
}
