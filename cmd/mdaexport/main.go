// mdaexport converts a stored acquisition to TIFF from the command
// line.  The input format is detected automatically; the selector uses
// the same axis=index pairs the library takes, e.g. -sel "p=0,t=1".
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/microscope-io/mdastore/readers"
)

func parseSel(s string) (map[string]int, error) {
	sel := map[string]int{}
	if s == "" {
		return sel, nil
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("selector %q is not axis=index", pair)
		}
		v, err := strconv.Atoi(kv[1])
		if err != nil {
			return nil, fmt.Errorf("selector %q: %v", pair, err)
		}
		sel[kv[0]] = v
	}
	return sel, nil
}

func main() {
	var (
		in  = flag.String("in", "", "path to a stored acquisition (ome-zarr or tensor)")
		out = flag.String("out", "", "output path; a directory for whole multi-position exports")
		sel = flag.String("sel", "", "comma separated axis=index pairs, e.g. \"p=0,t=1\"")
	)
	flag.Parse()
	if *in == "" || *out == "" {
		flag.Usage()
		log.Fatal("-in and -out are required")
	}

	selector, err := parseSel(*sel)
	if err != nil {
		log.Fatal(err)
	}

	rd, err := readers.Open(*in)
	if err != nil {
		log.Fatal(err)
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " exporting",
		SuffixAutoColon: true,
		Message:         *in + " -> " + *out,
		StopCharacter:   "done",
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()

	if err := rd.WriteTIFF(*out, selector); err != nil {
		spinner.StopFail()
		log.Fatal(err)
	}
	spinner.Stop()
}
